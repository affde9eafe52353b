//go:build cgo

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKuzuStore(t *testing.T) *KuzuStore {
	t.Helper()
	s, err := NewKuzuStore()
	require.NoError(t, err, "NewKuzuStore should not fail")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKuzuStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return newTestKuzuStore(t)
	})
}

func TestKuzuStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions", "db")
	key := Key{AppName: "elevenlabs_agent", UserID: "a2a_user", SessionID: "t-42"}

	s, err := NewKuzuFileStore(path)
	require.NoError(t, err)
	_, err = s.Create(ctx, key, map[string]any{"voice": "Rachel"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, key,
		*NewTextContent(RoleUser, "Say hello"),
		Content{Role: RoleModel, Parts: []Part{{InlineData: &Blob{MIMEType: "audio/mpeg", Data: []byte("ID3")}}}},
	))
	require.NoError(t, s.Close())

	reopened, err := NewKuzuFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Rachel", got.State["voice"])
	require.Len(t, got.History, 2)
	assert.Equal(t, "Say hello", got.History[0].FirstText())
	require.NotNil(t, got.History[1].Parts[0].InlineData)
	assert.Equal(t, []byte("ID3"), got.History[1].Parts[0].InlineData.Data)
}
