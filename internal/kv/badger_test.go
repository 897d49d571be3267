package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryio/gantry/internal/errs"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetSetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Set("gantry:tokens:MABC:0", []byte("claims")))

	value, err := store.Get("gantry:tokens:MABC:0")
	require.NoError(t, err)
	assert.Equal(t, "claims", string(value))
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("gantry:tokens:missing:0")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSetAddAndMembers(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetAdd("gantry:actors", "MABC"))
	require.NoError(t, store.SetAdd("gantry:actors", "MDEF"))
	require.NoError(t, store.SetAdd("gantry:actors", "MABC")) // duplicate add is a no-op

	members, err := store.SetMembers("gantry:actors")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"MABC", "MDEF"}, members)
}

func TestSetMembersEmptySet(t *testing.T) {
	store := openTestStore(t)

	members, err := store.SetMembers("gantry:operators")
	require.NoError(t, err)
	assert.Empty(t, members)
}
