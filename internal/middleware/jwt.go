// Package middleware implements Gantry's pre-invoke JWT interception: before
// a gantry.catalog.tokens.put message reaches the catalog service, this
// package cracks open its raw JWT, rejects it unless the subject's prefix
// names a known variant, decodes its claims into the token.Claims shape that
// all three variants share (there are no separate per-variant claim types),
// verifies its ed25519 signature, and rewrites the Token in place with the
// decoded claims and validation result.
package middleware

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/errs"
	"github.com/gantryio/gantry/internal/token"
)

// jwtClaims adapts token.Claims to the jwt.Claims interface golang-jwt
// requires for verification, carrying the registered time-window fields
// alongside the wascap-shaped subject/issuer/metadata fields.
type jwtClaims struct {
	token.Claims
}

func (c jwtClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Expires == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Expires, 0)), nil
}

func (c jwtClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.IssuedAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c jwtClaims) GetNotBefore() (*jwt.NumericDate, error) {
	if c.NotBefore == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.NotBefore, 0)), nil
}
func (c jwtClaims) GetIssuer() (string, error)            { return c.Issuer, nil }
func (c jwtClaims) GetSubject() (string, error)           { return c.Subject, nil }
func (c jwtClaims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

// AugmentPutToken is the pre-invoke hook: given the raw bytes of a
// DeliverMessage whose subject is gantry.catalog.tokens.put, it decodes the
// wrapped Token's raw_token, validates it, and returns the re-encoded
// DeliverMessage bytes with decoded_token_json and validation_result filled
// in. reply_to and subject are carried through unchanged.
func AugmentPutToken(body []byte) ([]byte, error) {
	var deliver token.DeliverMessage
	if err := codec.Decode(body, &deliver); err != nil {
		return nil, fmt.Errorf("middleware: decode deliver message: %w", err)
	}
	if deliver.Message == nil {
		return nil, fmt.Errorf("middleware: %w: empty message", errs.ErrInvalidToken)
	}

	var tok token.Token
	if err := codec.Decode(deliver.Message.Body, &tok); err != nil {
		return nil, fmt.Errorf("middleware: decode token: %w", err)
	}

	newTok, err := augmentToken(&tok)
	if err != nil {
		return nil, err
	}

	newBody, err := codec.Encode(newTok)
	if err != nil {
		return nil, fmt.Errorf("middleware: encode token: %w", err)
	}

	deliver.Message.Body = newBody
	out, err := codec.Encode(&deliver)
	if err != nil {
		return nil, fmt.Errorf("middleware: encode deliver message: %w", err)
	}
	return out, nil
}

// augmentToken is idempotent: running it twice on its own output produces a
// byte-identical Token, since decoding a JWT is deterministic and doesn't
// depend on whatever was previously in decoded_token_json.
func augmentToken(tok *token.Token) (*token.Token, error) {
	subject, err := peekSubject(tok.RawToken)
	if err != nil {
		return nil, fmt.Errorf("middleware: %w: %v", errs.ErrInvalidToken, err)
	}

	if _, ok := token.VariantOf(subject); !ok {
		return nil, fmt.Errorf("middleware: %w: unrecognized subject prefix %q", errs.ErrInvalidToken, subject)
	}

	claims, validation := decodeAndValidate(tok.RawToken)

	decodedJSON, err := json.Marshal(claims.Claims)
	if err != nil {
		return nil, fmt.Errorf("middleware: marshal claims: %w", err)
	}

	return &token.Token{
		RawToken:         tok.RawToken,
		DecodedTokenJSON: string(decodedJSON),
		ValidationResult: validation,
	}, nil
}

// peekSubject reads the "sub" claim out of a JWT without verifying its
// signature, just enough to pick the right claims schema for the real,
// verified decode that follows.
func peekSubject(rawToken string) (string, error) {
	parser := jwt.NewParser()
	var claims jwt.MapClaims
	if _, _, err := parser.ParseUnverified(rawToken, &claims); err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

// decodeAndValidate verifies rawToken's EdDSA signature against the
// ed25519 public key embedded in its issuer claim and reports the result.
// A signature failure is not itself an error here: it's reported through
// ValidationResult.SignatureValid so the catalog can reject the token on
// its own terms, matching the original design's separation between
// "middleware decode failure" and "signature invalid."
func decodeAndValidate(rawToken string) (jwtClaims, *token.ValidationResult) {
	var claims jwtClaims
	validation := &token.ValidationResult{}

	_, err := jwt.ParseWithClaims(rawToken, &claims, keyfunc, jwt.WithValidMethods([]string{"EdDSA"}))
	switch {
	case err == nil:
		validation.SignatureValid = true
	case errors.Is(err, jwt.ErrTokenExpired):
		validation.SignatureValid = true
		validation.Expired = true
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		validation.SignatureValid = true
		validation.CannotUseYet = true
	default:
		validation.SignatureValid = false
	}

	if claims.Expires != 0 {
		validation.ExpiresHuman = time.Unix(claims.Expires, 0).UTC().Format(time.RFC3339)
	}
	if claims.NotBefore != 0 {
		validation.NotBeforeHuman = time.Unix(claims.NotBefore, 0).UTC().Format(time.RFC3339)
	}
	return claims, validation
}

// keyfunc derives the ed25519 verification key from the token's issuer
// claim. Gantry represents a signer's public key as the hex encoding of its
// raw 32 ed25519 public key bytes, rather than the NKey base32 encoding the
// original used — there is no NKey-compatible library in this corpus, and
// hex/ed25519 is the pack's own idiom for raw key material.
func keyfunc(t *jwt.Token) (interface{}, error) {
	claims, ok := t.Claims.(*jwtClaims)
	if !ok {
		return nil, fmt.Errorf("middleware: unexpected claims type")
	}
	raw, err := hex.DecodeString(claims.Issuer)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("middleware: issuer is not a valid ed25519 public key")
	}
	return ed25519.PublicKey(raw), nil
}
