package catalog

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryio/gantry/internal/errs"
	"github.com/gantryio/gantry/internal/token"
)

// memStore is a minimal in-process kv.Store fake, enough to exercise Service
// without pulling Badger into a unit test.
type memStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	setKeys map[string]map[string]struct{}
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string][]byte), setKeys: make(map[string]map[string]struct{})}
}

func (m *memStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) SetAdd(setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setKeys[setKey] == nil {
		m.setKeys[setKey] = make(map[string]struct{})
	}
	m.setKeys[setKey][member] = struct{}{}
	return nil
}

func (m *memStore) SetMembers(setKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.setKeys[setKey]))
	for member := range m.setKeys[setKey] {
		members = append(members, member)
	}
	return members, nil
}

func (m *memStore) Close() error { return nil }

// validActorToken builds a Token whose ValidationResult and
// DecodedTokenJSON are already populated, as PutToken expects from a
// middleware-augmented message.
func validActorToken(t *testing.T, subjectSuffix, name string, revision uint64) *token.Token {
	t.Helper()
	issuerPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claims := fmt.Sprintf(
		`{"sub":"M%s","iss":"%s","wascap":{"name":%q,"rev":%d}}`,
		subjectSuffix, hex.EncodeToString(issuerPub), name, revision,
	)
	return &token.Token{
		RawToken:         "raw." + subjectSuffix,
		DecodedTokenJSON: claims,
		ValidationResult: &token.ValidationResult{SignatureValid: true},
	}
}

func TestPutTokenRejectsUnsignedToken(t *testing.T) {
	svc := New(newMemStore(), nil)
	tok := &token.Token{RawToken: "raw", ValidationResult: &token.ValidationResult{SignatureValid: false}}

	_, err := svc.PutToken(tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestPutTokenRejectsExpiredToken(t *testing.T) {
	svc := New(newMemStore(), nil)
	tok := &token.Token{RawToken: "raw", ValidationResult: &token.ValidationResult{SignatureValid: true, Expired: true}}

	_, err := svc.PutToken(tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestPutTokenThenListActors(t *testing.T) {
	svc := New(newMemStore(), nil)
	tok := validActorToken(t, "abc123", "my-actor", 1)

	result, err := svc.PutToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "my-actor", result.Name)

	actors, err := svc.ListActors()
	require.NoError(t, err)
	assert.Contains(t, actors, result.Subject)
}

func TestPutTokenThenQueryRoundTrip(t *testing.T) {
	svc := New(newMemStore(), nil)
	tok := validActorToken(t, "def456", "queryable-actor", 3)

	put, err := svc.PutToken(tok)
	require.NoError(t, err)

	results, err := svc.Query(&token.CatalogQuery{QueryType: token.QueryActor})
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, put.Subject, results.Results[0].Subject)
	assert.Equal(t, "queryable-actor", results.Results[0].Name)
}

func TestQueryFiltersByIssuer(t *testing.T) {
	svc := New(newMemStore(), nil)
	tok := validActorToken(t, "ghi789", "filtered-actor", 1)
	put, err := svc.PutToken(tok)
	require.NoError(t, err)

	results, err := svc.Query(&token.CatalogQuery{QueryType: token.QueryActor, Issuer: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, results.Results)

	results, err = svc.Query(&token.CatalogQuery{QueryType: token.QueryActor, Issuer: put.Issuer})
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
}

func TestLookupSubjectReportsUnknownOnMissingRow(t *testing.T) {
	svc := New(newMemStore(), nil)
	result := svc.lookupSubject("Mneverput")
	assert.Equal(t, "??", result.Issuer)
	assert.Equal(t, "??", result.Name)
}

func TestLatestRevisionPrefersHighestMirroredRevision(t *testing.T) {
	svc := New(newMemStore(), nil)

	put, err := svc.PutToken(validActorToken(t, "revisioned", "v1", 1))
	require.NoError(t, err)

	rev2 := validActorToken(t, "revisioned", "v2", 5)
	rev2.DecodedTokenJSON = fmt.Sprintf(`{"sub":"%s","iss":"someone","wascap":{"name":"v2","rev":5}}`, put.Subject)
	_, err = svc.PutToken(rev2)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), svc.latestRevision(put.Subject))
}
