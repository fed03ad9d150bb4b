package store

import (
	"context"
	"testing"

	"example.com/photofeed/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	_, err := m.GetDocument(ctx, "users/alice/posts", "p1")
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	require.NoError(t, m.SetDocument(ctx, "users/alice/posts", "p2", gateway.Fields{"likers": []string{"bob"}}))
	require.NoError(t, m.SetDocument(ctx, "users/alice/posts", "p1", gateway.Fields{"caption": "hi"}))

	f, err := m.GetDocument(ctx, "users/alice/posts", "p2")
	require.NoError(t, err)
	assert.Equal(t, []any{"bob"}, f["likers"])

	docs, err := m.ListDocuments(ctx, "users/alice/posts")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "p1", docs[0].ID)
	assert.Equal(t, "p2", docs[1].ID)

	require.NoError(t, m.DeleteDocument(ctx, "users/alice/posts", "p1"))
	assert.False(t, m.Has("users/alice/posts", "p1"))
	assert.Len(t, m.WritesTo("users/alice/posts"), 2)
}

func TestMockStore_FailOnPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	m.FailOn(OpSet, "users/carol/followers")

	err := m.SetDocument(ctx, "users/carol/followers", "alice", gateway.Fields{"valid": true})
	assert.ErrorIs(t, err, gateway.ErrWrite)
	assert.NoError(t, m.SetDocument(ctx, "users/alice/following", "carol", gateway.Fields{"valid": true}))

	_, err = m.ListDocuments(ctx, "users/carol/followers")
	assert.NoError(t, err, "only the injected operation fails")

	m.ClearFailures()
	assert.NoError(t, m.SetDocument(ctx, "users/carol/followers", "alice", gateway.Fields{"valid": true}))
}

func TestMockStore_MalformedRawIsSkippedInLists(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	m.PutRaw("users/alice/posts", "bad", []byte("{not json"))
	require.NoError(t, m.SetDocument(ctx, "users/alice/posts", "good", gateway.Fields{"id": "good"}))

	_, err := m.GetDocument(ctx, "users/alice/posts", "bad")
	assert.ErrorIs(t, err, gateway.ErrMalformedData)

	docs, err := m.ListDocuments(ctx, "users/alice/posts")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].ID)
}

func TestMockStoreFail(t *testing.T) {
	m := &MockStoreFail{}
	assert.ErrorIs(t, m.SetDocument(context.Background(), "c", "id", nil), gateway.ErrWrite)
	_, err := m.ListDocuments(context.Background(), "c")
	assert.Error(t, err)
}
