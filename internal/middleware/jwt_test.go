package middleware

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/token"
)

// genValidToken signs an actor claims set with a fresh ed25519 keypair and
// returns the raw JWT plus the subject public key, mirroring the original
// middleware test's gen_valid_token helper.
func genValidToken(t *testing.T) (raw string, subjectPub ed25519.PublicKey) {
	t.Helper()

	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	subjPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claims := jwtClaims{token.Claims{
		Subject: "M" + hex.EncodeToString(subjPub)[:55],
		Issuer:  hex.EncodeToString(issuerPub),
		IssuedAt: time.Now().Unix(),
		Wascap: &token.Metadata{
			Name:    "test actor",
			Version: "1.0.0",
		},
	}}

	jwtTok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	raw, err = jwtTok.SignedString(issuerPriv)
	require.NoError(t, err)
	return raw, subjPub
}

// wrapToken packages a raw JWT into the DeliverMessage/Token wire shape the
// middleware receives, mirroring the original's wrap_token helper.
func wrapToken(t *testing.T, raw string) []byte {
	t.Helper()

	tok := token.Token{RawToken: raw}
	body, err := codec.Encode(&tok)
	require.NoError(t, err)

	deliver := token.DeliverMessage{
		Message: &token.BrokerMessage{
			Subject: token.SubjectCatalogPutToken,
			ReplyTo: "reply",
			Body:    body,
		},
	}
	buf, err := codec.Encode(&deliver)
	require.NoError(t, err)
	return buf
}

func extractToken(t *testing.T, out []byte) token.Token {
	t.Helper()

	var deliver token.DeliverMessage
	require.NoError(t, codec.Decode(out, &deliver))

	var tok token.Token
	require.NoError(t, codec.Decode(deliver.Message.Body, &tok))
	return tok
}

func TestMiddlewareAugmentsValidToken(t *testing.T) {
	raw, _ := genValidToken(t)
	body := wrapToken(t, raw)

	out, err := AugmentPutToken(body)
	require.NoError(t, err)

	newTok := extractToken(t, out)
	require.NotNil(t, newTok.ValidationResult)
	assert.True(t, newTok.ValidationResult.SignatureValid)
	assert.False(t, newTok.ValidationResult.Expired)
	assert.Contains(t, newTok.DecodedTokenJSON, "test actor")
}

func TestMiddlewareIsIdempotent(t *testing.T) {
	raw, _ := genValidToken(t)
	body := wrapToken(t, raw)

	firstPass, err := AugmentPutToken(body)
	require.NoError(t, err)

	var deliver token.DeliverMessage
	require.NoError(t, codec.Decode(firstPass, &deliver))
	secondBody, err := codec.Encode(&deliver)
	require.NoError(t, err)

	secondPass, err := AugmentPutToken(secondBody)
	require.NoError(t, err)

	assert.Equal(t, extractToken(t, firstPass), extractToken(t, secondPass))
}

func TestMiddlewareMarksNotYetValidToken(t *testing.T) {
	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claims := jwtClaims{token.Claims{
		Subject:   "Mactorsubject",
		Issuer:    hex.EncodeToString(issuerPub),
		NotBefore: time.Now().Add(time.Hour).Unix(),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(issuerPriv)
	require.NoError(t, err)

	out, err := AugmentPutToken(wrapToken(t, raw))
	require.NoError(t, err)

	newTok := extractToken(t, out)
	require.NotNil(t, newTok.ValidationResult)
	assert.True(t, newTok.ValidationResult.SignatureValid)
	assert.True(t, newTok.ValidationResult.CannotUseYet)
	assert.NotEmpty(t, newTok.ValidationResult.NotBeforeHuman)
}

func TestMiddlewareRejectsUnknownSubjectPrefix(t *testing.T) {
	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claims := jwtClaims{token.Claims{
		Subject: "Xsomethingunrecognized",
		Issuer:  hex.EncodeToString(issuerPub),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(issuerPriv)
	require.NoError(t, err)

	_, err = AugmentPutToken(wrapToken(t, raw))
	require.Error(t, err)
}

func TestMiddlewareMarksInvalidSignature(t *testing.T) {
	issuerPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claims := jwtClaims{token.Claims{
		Subject: "Mactorsubject",
		Issuer:  hex.EncodeToString(issuerPub),
	}}
	// Signed with the wrong key, so the embedded issuer can't verify it.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(wrongPriv)
	require.NoError(t, err)

	out, err := AugmentPutToken(wrapToken(t, raw))
	require.NoError(t, err)

	newTok := extractToken(t, out)
	require.NotNil(t, newTok.ValidationResult)
	assert.False(t, newTok.ValidationResult.SignatureValid)
}
