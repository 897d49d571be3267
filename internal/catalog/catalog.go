// Package catalog implements Gantry's token registry: it stores the claims
// and raw JWT for every actor/account/operator, indexed by subject, and
// answers queries that enumerate a given variant.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/gantryio/gantry/internal/errs"
	"github.com/gantryio/gantry/internal/kv"
	"github.com/gantryio/gantry/internal/token"
)

// variantSetKeys names the three index sets a subject is added to depending
// on its prefix.
var variantSetKeys = map[token.Variant]string{
	token.VariantActor:    "gantry:actors",
	token.VariantAccount:  "gantry:accounts",
	token.VariantOperator: "gantry:operators",
}

var queryTypeSetKeys = map[token.QueryType]string{
	token.QueryActor:    "gantry:actors",
	token.QueryAccount:  "gantry:accounts",
	token.QueryOperator: "gantry:operators",
}

// Service is the catalog's message-handling core. It holds no broker
// dependency directly — Serve in service.go wires it to one.
type Service struct {
	store           kv.Store
	operatorSigners []string
}

// New builds a catalog service over store. operatorSigners is the
// immutable snapshot of trusted operator/account signer subjects captured
// at configure time.
func New(store kv.Store, operatorSigners []string) *Service {
	signers := append([]string(nil), operatorSigners...)
	return &Service{store: store, operatorSigners: signers}
}

// OperatorSigners returns the configured trusted signer snapshot.
func (s *Service) OperatorSigners() []string {
	return append([]string(nil), s.operatorSigners...)
}

// claimsDoc is the loosely-typed view of decoded_token_json this package
// needs: just enough fields to route and index a token without depending on
// the full variant-specific claims shape.
type claimsDoc struct {
	Subject string `json:"sub"`
	Issuer  string `json:"iss"`
	Wascap  struct {
		Name     string `json:"name"`
		Revision uint64 `json:"rev"`
	} `json:"wascap"`
}

// PutToken validates and persists an already-decoded Token. The caller (the
// JWT middleware) is responsible for having populated DecodedTokenJSON and
// ValidationResult before this is called.
func (s *Service) PutToken(tok *token.Token) (*token.CatalogQueryResult, error) {
	if tok.ValidationResult == nil || !tok.ValidationResult.SignatureValid {
		return nil, fmt.Errorf("catalog: put token: %w: invalid signature", errs.ErrInvalidToken)
	}
	if tok.ValidationResult.Expired {
		return nil, fmt.Errorf("catalog: put token: %w: expired", errs.ErrInvalidToken)
	}

	var claims claimsDoc
	if err := json.Unmarshal([]byte(tok.DecodedTokenJSON), &claims); err != nil {
		return nil, fmt.Errorf("catalog: put token: decode claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("catalog: put token: %w: missing subject", errs.ErrInvalidToken)
	}

	variant, ok := token.VariantOf(claims.Subject)
	if !ok {
		return nil, fmt.Errorf("catalog: put token: %w: unrecognized subject", errs.ErrInvalidToken)
	}

	revision := claims.Wascap.Revision

	// Write order matches the original: decoded body, then raw body, then
	// the revisions set, then the variant index. Each write is independently
	// idempotent, so a retried put after a partial failure converges.
	if err := s.store.Set(tokenKey(claims.Subject, revision), []byte(tok.DecodedTokenJSON)); err != nil {
		return nil, fmt.Errorf("catalog: put token: %w", err)
	}
	// Every put also mirrors to revision 0, so a reader that only ever looks
	// at :0 still sees the latest write. See query below for the
	// complementary max(revisions) read path.
	if err := s.store.Set(tokenKey(claims.Subject, 0), []byte(tok.DecodedTokenJSON)); err != nil {
		return nil, fmt.Errorf("catalog: put token: %w", err)
	}
	if err := s.store.Set(tokenRawKey(claims.Subject, revision), []byte(tok.RawToken)); err != nil {
		return nil, fmt.Errorf("catalog: put token: %w", err)
	}
	if err := s.store.Set(tokenRawKey(claims.Subject, 0), []byte(tok.RawToken)); err != nil {
		return nil, fmt.Errorf("catalog: put token: %w", err)
	}
	if err := s.store.SetAdd(revisionsKey(claims.Subject), fmt.Sprintf("%d", revision)); err != nil {
		return nil, fmt.Errorf("catalog: put token: %w", err)
	}
	if err := s.store.SetAdd(variantSetKeys[variant], claims.Subject); err != nil {
		return nil, fmt.Errorf("catalog: put token: %w", err)
	}

	name := claims.Wascap.Name
	if name == "" {
		name = "Anonymous"
	}

	return &token.CatalogQueryResult{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Name:    name,
	}, nil
}

// Query enumerates every subject registered under query.QueryType.
func (s *Service) Query(query *token.CatalogQuery) (*token.CatalogQueryResults, error) {
	setKey, ok := queryTypeSetKeys[query.QueryType]
	if !ok {
		return nil, fmt.Errorf("catalog: query: %w: unknown query type", errs.ErrInvalidToken)
	}

	subjects, err := s.store.SetMembers(setKey)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}

	results := make([]token.CatalogQueryResult, 0, len(subjects))
	for _, subject := range subjects {
		result := s.lookupSubject(subject)
		if query.Issuer != "" && result.Issuer != query.Issuer {
			continue
		}
		results = append(results, result)
	}

	return &token.CatalogQueryResults{Results: results}, nil
}

// lookupSubject reads the latest-known revision for subject, preferring the
// set of recorded revisions and falling back to revision 0. A missing or
// undecodable row reports "??" fields rather than failing the whole query,
// matching the original's per-row error tolerance.
func (s *Service) lookupSubject(subject string) token.CatalogQueryResult {
	revision := s.latestRevision(subject)

	raw, err := s.store.Get(tokenKey(subject, revision))
	if err != nil {
		return token.CatalogQueryResult{Subject: subject, Issuer: "??", Name: "??"}
	}

	var claims claimsDoc
	if err := json.Unmarshal(raw, &claims); err != nil {
		return token.CatalogQueryResult{Subject: subject, Issuer: "??", Name: "??"}
	}

	issuer := claims.Issuer
	if issuer == "" {
		issuer = "??"
	}
	name := claims.Wascap.Name
	if name == "" {
		name = "??"
	}

	return token.CatalogQueryResult{Subject: subject, Issuer: issuer, Name: name}
}

// latestRevision returns the highest revision number recorded for subject,
// or 0 if the revisions set is empty or unreadable.
func (s *Service) latestRevision(subject string) uint64 {
	revisions, err := s.store.SetMembers(revisionsKey(subject))
	if err != nil || len(revisions) == 0 {
		return 0
	}

	var max uint64
	for _, r := range revisions {
		var n uint64
		if _, err := fmt.Sscanf(r, "%d", &n); err == nil && n > max {
			max = n
		}
	}
	return max
}

// ListActors returns every subject currently registered as an actor. The
// stream service depends on this through the ActorLister interface rather
// than a re-entrant broker call, keeping the membership check in-process.
func (s *Service) ListActors() ([]string, error) {
	subjects, err := s.store.SetMembers(variantSetKeys[token.VariantActor])
	if err != nil {
		return nil, fmt.Errorf("catalog: list actors: %w", err)
	}
	return subjects, nil
}

func tokenKey(subject string, revision uint64) string {
	return fmt.Sprintf("gantry:tokens:%s:%d", subject, revision)
}

func tokenRawKey(subject string, revision uint64) string {
	return fmt.Sprintf("gantry:tokens:%s:%d:raw", subject, revision)
}

func revisionsKey(subject string) string {
	return fmt.Sprintf("gantry:tokens:%s:revisions", subject)
}
