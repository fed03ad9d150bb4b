package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"example.com/photofeed/internal/blob"
	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/feed"
	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/models"
	"example.com/photofeed/internal/store"
	"example.com/photofeed/internal/viewstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPost(t *testing.T, st *store.MockStore, owner, id string, likers ...string) {
	t.Helper()
	if likers == nil {
		likers = []string{}
	}
	p := models.Post{
		ID:         id,
		Caption:    "c",
		PostedDate: "2024-01-02T00:00:00Z",
		ImageRef:   models.PostImageKey(owner, id),
		Likers:     likers,
	}
	require.NoError(t, st.SetDocument(context.Background(), models.PostsPath(owner), id, p.ToFields()))
}

func storedPost(t *testing.T, st *store.MockStore, owner, id string) models.Post {
	t.Helper()
	fields, err := st.GetDocument(context.Background(), models.PostsPath(owner), id)
	require.NoError(t, err)
	p, err := models.PostFromFields(fields)
	require.NoError(t, err)
	return p
}

func newTestRelay(st gateway.DocumentStore, blobs gateway.BlobStore, k *appkafka.MockKafka) *Relay {
	var n Notifier
	if k != nil {
		n = appkafka.NewPublisher(k)
	}
	r := New(st, blobs, n)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	r.randN = func() int { return 42 }
	return r
}

func decodeEvents(t *testing.T, k *appkafka.MockKafka) []appkafka.Event {
	t.Helper()
	var res []appkafka.Event
	for _, m := range k.Written() {
		var e appkafka.Event
		require.NoError(t, json.Unmarshal(m.Value, &e))
		res = append(res, e)
	}
	return res
}

func TestToggleLike_IdempotentSet(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	k := &appkafka.MockKafka{}
	r := newTestRelay(st, blob.NewMem("https://mem.test"), k)

	req := LikeRequest{PostID: "p1", Owner: "bob", Viewer: "alice", State: Liked}
	out := r.ToggleLike(context.Background(), req)
	require.True(t, out.Applied)
	require.NoError(t, out.Err)

	writes := st.WritesTo(models.PostsPath("bob"))
	require.Len(t, writes, 2) // seed + like
	assert.Equal(t, []any{"alice"}, writes[1].Fields["likers"])

	out = r.ToggleLike(context.Background(), req)
	require.True(t, out.Applied)
	assert.Len(t, st.WritesTo(models.PostsPath("bob")), 2)
	assert.Equal(t, []string{"alice"}, storedPost(t, st, "bob", "p1").Likers)

	events := decodeEvents(t, k)
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationLike, events[0].Kind)
	assert.Equal(t, "bob", events[0].Recipient)
}

func TestToggleLike_UnlikeRemovesOnlyViewer(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1", "carol", "alice", "dave")
	r := newTestRelay(st, blob.NewMem("https://mem.test"), nil)

	out := r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Owner: "bob", Viewer: "alice", State: Unliked})
	require.True(t, out.Applied)
	assert.Equal(t, []string{"carol", "dave"}, storedPost(t, st, "bob", "p1").Likers)
}

func TestToggleLike_OwnPostPublishesNothing(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	k := &appkafka.MockKafka{}
	r := newTestRelay(st, blob.NewMem("https://mem.test"), k)

	out := r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Owner: "bob", Viewer: "bob", State: Liked})
	require.True(t, out.Applied)
	assert.Empty(t, k.Written())
}

func TestToggleLike_PublishFailureStillApplies(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	r := newTestRelay(st, blob.NewMem("https://mem.test"), &appkafka.MockKafka{ShouldFail: true})

	out := r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Owner: "bob", Viewer: "alice", State: Liked})
	assert.True(t, out.Applied)
	assert.NoError(t, out.Err)
}

func TestToggleLike_RejectsIncompleteRequest(t *testing.T) {
	r := newTestRelay(store.NewMock(), blob.NewMem("https://mem.test"), nil)
	out := r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Viewer: "alice", State: Liked})
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, gateway.ErrMalformedData)

	out = r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Owner: "bob", Viewer: "alice", State: "maybe"})
	assert.ErrorIs(t, out.Err, gateway.ErrMalformedData)
}

func TestToggleLike_WriteFailureRevertsSession(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	require.NoError(t, st.SetDocument(context.Background(), models.FollowingPath("alice"), "bob", gateway.Fields{"valid": true}))

	pics := blob.NewMem("https://mem.test")
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, pics.Upload(context.Background(), models.ProfilePictureKey(u), []byte("png")))
	}
	require.NoError(t, pics.Upload(context.Background(), models.PostImageKey("bob", "p1"), []byte("png")))
	sess := feed.NewSession("alice", feed.NewAggregator(st, 2), viewstate.NewBuilder(pics, pics, nil, 2))
	_, err := sess.Refresh(context.Background())
	require.NoError(t, err)

	st.FailOn(store.OpSet, models.PostsPath("bob"))
	r := newTestRelay(st, pics, nil)
	out := r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Owner: "bob", Viewer: "alice", State: Liked, View: sess})
	require.False(t, out.Applied)
	require.ErrorIs(t, out.Err, gateway.ErrWrite)

	_, v, _ := sess.At(0)
	assert.True(t, v.IsLiked(), "optimistic state visible until reverted")

	out.Revert()
	e, v, _ := sess.At(0)
	assert.False(t, v.IsLiked())
	assert.Equal(t, 0, v.LikeCount())
	assert.Empty(t, e.Post.Likers)
}

func TestToggleLike_DoubleTapIsSerialized(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	r := newTestRelay(st, blob.NewMem("https://mem.test"), nil)

	var wg sync.WaitGroup
	for _, u := range []string{"alice", "carol", "dave", "erin"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			r.ToggleLike(context.Background(), LikeRequest{PostID: "p1", Owner: "bob", Viewer: u, State: Liked})
		}(u)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"alice", "carol", "dave", "erin"}, storedPost(t, st, "bob", "p1").Likers)
	assert.Equal(t, 0, r.locks.size())
}

func TestToggleFollow_RoundTrip(t *testing.T) {
	st := store.NewMock()
	k := &appkafka.MockKafka{}
	r := newTestRelay(st, blob.NewMem("https://mem.test"), k)

	out := r.ToggleFollow(context.Background(), FollowRequest{Viewer: "alice", Target: "bob", State: Following})
	require.True(t, out.Applied)
	assert.True(t, st.Has(models.FollowingPath("alice"), "bob"))
	assert.True(t, st.Has(models.FollowersPath("bob"), "alice"))

	out = r.ToggleFollow(context.Background(), FollowRequest{Viewer: "alice", Target: "bob", State: NotFollowing})
	require.True(t, out.Applied)
	assert.False(t, st.Has(models.FollowingPath("alice"), "bob"))
	assert.False(t, st.Has(models.FollowersPath("bob"), "alice"))

	events := decodeEvents(t, k)
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationFollow, events[0].Kind)
	assert.Equal(t, "alice", events[0].Actor)
}

func TestToggleFollow_HalfWrittenEdgeIsNotCompensated(t *testing.T) {
	st := store.NewMock()
	st.FailOn(store.OpSet, models.FollowersPath("carol"))
	r := newTestRelay(st, blob.NewMem("https://mem.test"), nil)

	out := r.ToggleFollow(context.Background(), FollowRequest{Viewer: "alice", Target: "carol", State: Following})
	require.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, gateway.ErrHalfWrittenEdge)
	assert.ErrorIs(t, out.Err, gateway.ErrWrite)

	assert.True(t, st.Has(models.FollowingPath("alice"), "carol"))
	assert.False(t, st.Has(models.FollowersPath("carol"), "alice"))
}

func TestToggleFollow_FirstWriteFailureTouchesNothing(t *testing.T) {
	st := store.NewMock()
	st.FailOn(store.OpSet, models.FollowingPath("alice"))
	r := newTestRelay(st, blob.NewMem("https://mem.test"), nil)

	out := r.ToggleFollow(context.Background(), FollowRequest{Viewer: "alice", Target: "bob", State: Following})
	require.False(t, out.Applied)
	assert.NotErrorIs(t, out.Err, gateway.ErrHalfWrittenEdge)
	assert.False(t, st.Has(models.FollowersPath("bob"), "alice"))
}

func TestToggleFollow_RejectsSelf(t *testing.T) {
	r := newTestRelay(store.NewMock(), blob.NewMem("https://mem.test"), nil)
	out := r.ToggleFollow(context.Background(), FollowRequest{Viewer: "alice", Target: "alice", State: Following})
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, gateway.ErrMalformedData)
}

func TestSubmitComment(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	k := &appkafka.MockKafka{}
	r := newTestRelay(st, blob.NewMem("https://mem.test"), k)

	out := r.SubmitComment(context.Background(), CommentRequest{PostID: "p1", Owner: "bob", Viewer: "alice", Text: "  nice shot \n"})
	require.True(t, out.Applied)
	require.NoError(t, out.Err)

	docs, err := st.ListDocuments(context.Background(), models.CommentsPath("bob", "p1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	c, err := models.CommentFromFields(docs[0].Fields)
	require.NoError(t, err)
	assert.Equal(t, "nice shot", c.Text)
	assert.Equal(t, "alice", c.Username)
	assert.Equal(t, "2023-11-14T22:13:20Z", c.PostedDate)

	events := decodeEvents(t, k)
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationComment, events[0].Kind)
	assert.Equal(t, "p1", events[0].PostID)
}

func TestSubmitComment_BlankIsIgnored(t *testing.T) {
	st := store.NewMock()
	seedPost(t, st, "bob", "p1")
	r := newTestRelay(st, blob.NewMem("https://mem.test"), nil)

	out := r.SubmitComment(context.Background(), CommentRequest{PostID: "p1", Owner: "bob", Viewer: "alice", Text: " \t "})
	assert.False(t, out.Applied)
	assert.NoError(t, out.Err)
	assert.Empty(t, st.WritesTo(models.CommentsPath("bob", "p1")))
}

func TestSubmitComment_MissingPost(t *testing.T) {
	r := newTestRelay(store.NewMock(), blob.NewMem("https://mem.test"), nil)
	out := r.SubmitComment(context.Background(), CommentRequest{PostID: "nope", Owner: "bob", Viewer: "alice", Text: "hi"})
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, gateway.ErrNotFound)
}

func TestCreatePost(t *testing.T) {
	st := store.NewMock()
	blobs := blob.NewMem("https://mem.test")
	r := newTestRelay(st, blobs, nil)

	out := r.CreatePost(context.Background(), CreatePostRequest{Viewer: "alice", Image: []byte("png"), Caption: "sunset"})
	require.True(t, out.Applied)
	require.NoError(t, out.Err)

	assert.Equal(t, "alice_42_1700000000", out.Post.ID)
	assert.True(t, blobs.Has("alice/posts/alice_42_1700000000.png"))
	assert.Equal(t, "alice/posts/alice_42_1700000000.png", out.Post.ImageRef)
	assert.Equal(t, 0, blobs.URLCalls, "no URL is resolved at write time")

	stored := storedPost(t, st, "alice", out.Post.ID)
	assert.Equal(t, "sunset", stored.Caption)
	assert.Empty(t, stored.Likers)
	assert.Equal(t, out.Post.ImageRef, stored.ImageRef)
}

// rotatingURLs hands out a new signed URL on every resolution, like a
// presigning blob store.
type rotatingURLs struct {
	mu    sync.Mutex
	calls int
}

func (r *rotatingURLs) GetDownloadURL(ctx context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return fmt.Sprintf("https://signed.test/%s?sig=%d", path, r.calls), nil
}

func TestCreatePost_MediaResolvedOnEveryBuild(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	blobs := blob.NewMem("https://mem.test")
	require.NoError(t, blobs.Upload(ctx, models.ProfilePictureKey("alice"), []byte("png")))
	r := newTestRelay(st, blobs, nil)

	out := r.CreatePost(ctx, CreatePostRequest{Viewer: "alice", Image: []byte("png"), Caption: "sunset"})
	require.True(t, out.Applied)

	media := &rotatingURLs{}
	sess := feed.NewSession("alice", feed.NewAggregator(st, 2), viewstate.NewBuilder(blobs, media, nil, 2))

	first, err := sess.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := sess.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)

	firstURL := first[0].Segments[1].Media.URL
	secondURL := second[0].Segments[1].Media.URL
	assert.Equal(t, "https://signed.test/alice/posts/alice_42_1700000000.png?sig=1", firstURL)
	assert.NotEqual(t, firstURL, secondURL)
	assert.Equal(t, "alice/posts/alice_42_1700000000.png", storedPost(t, st, "alice", out.Post.ID).ImageRef)
}

func TestCreatePost_UploadFailureWritesNoDocument(t *testing.T) {
	st := store.NewMock()
	blobs := blob.NewMem("https://mem.test")
	blobs.FailUploads("alice/posts/")
	r := newTestRelay(st, blobs, nil)

	out := r.CreatePost(context.Background(), CreatePostRequest{Viewer: "alice", Image: []byte("png"), Caption: "x"})
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, gateway.ErrWrite)
	assert.Empty(t, st.WritesTo(models.PostsPath("alice")))
	assert.Equal(t, 0, blobs.Len())
}

func TestCreatePost_DocumentFailureLeavesBlob(t *testing.T) {
	st := store.NewMock()
	st.FailOn(store.OpSet, models.PostsPath("alice"))
	blobs := blob.NewMem("https://mem.test")
	r := newTestRelay(st, blobs, nil)

	out := r.CreatePost(context.Background(), CreatePostRequest{Viewer: "alice", Image: []byte("png")})
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, gateway.ErrWrite)
	assert.Equal(t, 1, blobs.Len())
}

func TestCreatePost_RejectsEmptyImage(t *testing.T) {
	r := newTestRelay(store.NewMock(), blob.NewMem("https://mem.test"), nil)
	out := r.CreatePost(context.Background(), CreatePostRequest{Viewer: "alice"})
	assert.ErrorIs(t, out.Err, gateway.ErrMalformedData)
}
