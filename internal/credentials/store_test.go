package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.json")

	fs, err := OpenFile(path)
	require.NoError(t, err)

	_, ok := fs.Get(KeyAuthToken)
	assert.False(t, ok)

	require.NoError(t, fs.Set(KeyAuthToken, "tok"))
	require.NoError(t, fs.Set(KeyAPIKey, "r8_abc"))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	v, ok := reopened.Get(KeyAuthToken)
	require.True(t, ok)
	assert.Equal(t, "tok", v)
	assert.Equal(t, []string{KeyAPIKey, KeyAuthToken}, reopened.Keys())

	require.NoError(t, reopened.Delete(KeyAuthToken))
	require.NoError(t, reopened.Delete("missing"))

	again, err := OpenFile(path)
	require.NoError(t, err)
	_, ok = again.Get(KeyAuthToken)
	assert.False(t, ok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile("  ")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = OpenFile(path)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	fs, err := OpenFile(empty)
	require.NoError(t, err)
	assert.Empty(t, fs.Keys())
}

func TestScoped_IsolatesNamespaces(t *testing.T) {
	mem := NewMemoryStore()
	alice := Scoped(mem, "42")
	bob := Scoped(mem, "43")

	require.NoError(t, alice.Set(KeyAuthToken, "a"))
	require.NoError(t, bob.Set(KeyAuthToken, "b"))

	v, _ := alice.Get(KeyAuthToken)
	assert.Equal(t, "a", v)
	v, _ = bob.Get(KeyAuthToken)
	assert.Equal(t, "b", v)

	raw, ok := mem.Get("42/" + KeyAuthToken)
	require.True(t, ok)
	assert.Equal(t, "a", raw)

	require.NoError(t, alice.Delete(KeyAuthToken))
	_, ok = alice.Get(KeyAuthToken)
	assert.False(t, ok)
	_, ok = bob.Get(KeyAuthToken)
	assert.True(t, ok)
}
