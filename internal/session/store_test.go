package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// runStoreContract exercises the behaviour every Store implementation must
// share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	key := Key{AppName: "notion_agent", UserID: "a2a_user_notion", SessionID: "task-1"}

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, key, map[string]any{"lang": "en"})
		require.NoError(t, err)
		assert.Equal(t, key, created.Key)
		assert.False(t, created.LastUpdate.IsZero())

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, got.Key)
		assert.Equal(t, "en", got.State["lang"])
		assert.Empty(t, got.History)
	})

	t.Run("CreateExistingKeepsOriginal", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, key, map[string]any{"v": "first"})
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, key, *NewTextContent(RoleUser, "hello")))

		_, err = s.Create(ctx, key, map[string]any{"v": "second"})
		assert.ErrorIs(t, err, ErrExists)

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "first", got.State["v"])
		require.Len(t, got.History, 1)
	})

	t.Run("AppendPreservesOrder", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, key, nil)
		require.NoError(t, err)

		require.NoError(t, s.Append(ctx, key, *NewTextContent(RoleUser, "find roadmap")))
		call := Content{Role: RoleModel, Parts: []Part{{FunctionCall: &FunctionCall{
			ID: "c1", Name: "API-post-search", Args: map[string]any{"query": "roadmap"},
		}}}}
		resp := Content{Role: RoleUser, Parts: []Part{{FunctionResponse: &FunctionResponse{
			ID: "c1", Name: "API-post-search", Response: map[string]any{"result": "2 pages"},
		}}}}
		require.NoError(t, s.Append(ctx, key, call, resp))
		require.NoError(t, s.Append(ctx, key, *NewTextContent(RoleModel, "Found 2 pages")))

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.Len(t, got.History, 4)
		assert.Equal(t, "find roadmap", got.History[0].FirstText())
		require.Len(t, got.History[1].FunctionCalls(), 1)
		assert.Equal(t, "roadmap", got.History[1].FunctionCalls()[0].Args["query"])
		assert.True(t, got.History[2].HasFunctionResponse())
		assert.Equal(t, "Found 2 pages", got.History[3].FirstText())
	})

	t.Run("AppendMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.Append(ctx, key, *NewTextContent(RoleUser, "x"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, key, nil)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, key, *NewTextContent(RoleUser, "x")))

		require.NoError(t, s.Delete(ctx, key))
		_, err = s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, key), ErrNotFound)

		// The key is free again and starts with an empty history.
		_, err = s.Create(ctx, key, nil)
		require.NoError(t, err)
		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got.History)
	})

	t.Run("ListScopesByAppAndUser", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []Key{
			{AppName: "notion_agent", UserID: "u1", SessionID: "b"},
			{AppName: "notion_agent", UserID: "u1", SessionID: "a"},
			{AppName: "notion_agent", UserID: "u2", SessionID: "c"},
			{AppName: "elevenlabs_agent", UserID: "u1", SessionID: "d"},
		} {
			_, err := s.Create(ctx, k, nil)
			require.NoError(t, err)
		}
		require.NoError(t, s.Append(ctx, Key{AppName: "notion_agent", UserID: "u1", SessionID: "a"}, *NewTextContent(RoleUser, "x")))

		list, err := s.List(ctx, "notion_agent", "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].Key.SessionID)
		assert.Equal(t, "b", list[1].Key.SessionID)
		assert.Empty(t, list[0].History)

		none, err := s.List(ctx, "nobody", "u1")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ConcurrentGetOrCreate", func(t *testing.T) {
		s := newStore(t)
		var g errgroup.Group
		for i := 0; i < 16; i++ {
			g.Go(func() error {
				sess, err := GetOrCreate(ctx, s, key)
				if err != nil {
					return err
				}
				if sess.Key != key {
					return fmt.Errorf("got key %v", sess.Key)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		list, err := s.List(ctx, key.AppName, key.UserID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestGetOrCreate_ReusesExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := Key{AppName: "app", UserID: "u", SessionID: "s"}

	_, err := s.Create(ctx, key, map[string]any{"seen": true})
	require.NoError(t, err)

	sess, err := GetOrCreate(ctx, s, key)
	require.NoError(t, err)
	assert.Equal(t, true, sess.State["seen"])
}

// racingStore reports the session missing on the first Get, as if another
// caller created it between Get and Create.
type racingStore struct {
	*MemoryStore
	gets int
}

func (r *racingStore) Get(ctx context.Context, key Key) (*Session, error) {
	r.gets++
	if r.gets == 1 {
		return nil, fmt.Errorf("session %s: %w", key, ErrNotFound)
	}
	return r.MemoryStore.Get(ctx, key)
}

func TestGetOrCreate_LostCreateRace(t *testing.T) {
	ctx := context.Background()
	key := Key{AppName: "app", UserID: "u", SessionID: "s"}
	inner := NewMemoryStore()
	_, err := inner.Create(ctx, key, map[string]any{"owner": "winner"})
	require.NoError(t, err)

	sess, err := GetOrCreate(ctx, &racingStore{MemoryStore: inner}, key)
	require.NoError(t, err)
	assert.Equal(t, "winner", sess.State["owner"])
}

type brokenStore struct{ *MemoryStore }

func (brokenStore) Get(context.Context, Key) (*Session, error) {
	return nil, errors.New("disk on fire")
}

func TestGetOrCreate_PropagatesStoreErrors(t *testing.T) {
	_, err := GetOrCreate(context.Background(), brokenStore{NewMemoryStore()}, Key{SessionID: "s"})
	assert.EqualError(t, err, "disk on fire")
}

func TestContent_Helpers(t *testing.T) {
	var nilContent *Content
	assert.Equal(t, "", nilContent.FirstText())
	assert.Equal(t, "", nilContent.Text())
	assert.Nil(t, nilContent.FunctionCalls())
	assert.False(t, nilContent.HasFunctionResponse())

	c := &Content{Role: RoleModel, Parts: []Part{
		{InlineData: &Blob{MIMEType: "audio/mpeg", Data: []byte{1, 2}}},
		{Text: "saved"},
		{Text: "to disk"},
	}}
	assert.Equal(t, "", c.FirstText(), "first part carries no text")
	assert.Equal(t, "saved\nto disk", c.Text())
}
