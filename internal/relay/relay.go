// Package relay turns user gestures into document and blob writes. Each
// operation reports an Outcome; when a local view was updated optimistically,
// Outcome.Revert undoes that update.
package relay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/logger"
	"example.com/photofeed/internal/models"
	"github.com/google/uuid"
)

var logg = logger.New()

type LikeState string

const (
	Liked   LikeState = "liked"
	Unliked LikeState = "unliked"
)

type FollowState string

const (
	Following    FollowState = "following"
	NotFollowing FollowState = "not_following"
)

// LocalView is on-screen state the relay may update before the remote write
// resolves. feed.Session implements it.
type LocalView interface {
	SetLiked(owner, postID string, liked bool) (prev bool, ok bool)
}

// Notifier publishes interaction events. appkafka.Publisher implements it.
type Notifier interface {
	Publish(ctx context.Context, e appkafka.Event) error
}

// Outcome is the result of one interaction.
type Outcome struct {
	Applied bool
	Err     error
	revert  func()
}

// Revert restores any optimistic local change. It is a no-op when nothing
// was applied locally.
func (o Outcome) Revert() {
	if o.revert != nil {
		o.revert()
	}
}

type LikeRequest struct {
	PostID string
	Owner  string
	Viewer string
	State  LikeState
	View   LocalView // optional
}

type FollowRequest struct {
	Viewer string
	Target string
	State  FollowState
}

type CommentRequest struct {
	PostID string
	Owner  string
	Viewer string
	Text   string
}

type CreatePostRequest struct {
	Viewer  string
	Image   []byte
	Caption string
}

// PostOutcome carries the created post when Applied is true.
type PostOutcome struct {
	Outcome
	Post models.Post
}

// Relay performs interaction writes against the remote gateways.
type Relay struct {
	docs     gateway.DocumentStore
	blobs    gateway.BlobStore
	notifier Notifier
	locks    *keyedMutex

	now   func() time.Time
	randN func() int
}

// New creates a Relay. notifier may be nil.
func New(docs gateway.DocumentStore, blobs gateway.BlobStore, notifier Notifier) *Relay {
	return &Relay{
		docs:     docs,
		blobs:    blobs,
		notifier: notifier,
		locks:    newKeyedMutex(),
		now:      time.Now,
		randN:    func() int { return rand.IntN(1001) },
	}
}

func failed(err error, revert func()) Outcome {
	return Outcome{Applied: false, Err: err, revert: revert}
}

// ToggleLike sets viewer's like on a post. Calls for the same post are
// serialized, so a second tap waits for the first write to land. Liking an
// already-liked post writes nothing.
func (r *Relay) ToggleLike(ctx context.Context, req LikeRequest) Outcome {
	liked := req.State == Liked
	if req.PostID == "" || req.Owner == "" || req.Viewer == "" || (req.State != Liked && req.State != Unliked) {
		return failed(fmt.Errorf("%w: incomplete like request", gateway.ErrMalformedData), nil)
	}

	var revert func()
	if req.View != nil {
		if prev, ok := req.View.SetLiked(req.Owner, req.PostID, liked); ok {
			view := req.View
			revert = func() { view.SetLiked(req.Owner, req.PostID, prev) }
		}
	}

	unlock := r.locks.Lock(req.Owner + "/" + req.PostID)
	defer unlock()

	fields, err := r.docs.GetDocument(ctx, models.PostsPath(req.Owner), req.PostID)
	if err != nil {
		logg.Error("relay", "Failed to read post for like", err)
		return failed(err, revert)
	}
	post, err := models.PostFromFields(fields)
	if err != nil {
		return failed(err, revert)
	}

	var changed bool
	if liked {
		changed = post.AddLiker(req.Viewer)
	} else {
		changed = post.RemoveLiker(req.Viewer)
	}
	if !changed {
		return Outcome{Applied: true, revert: revert}
	}

	if err := r.docs.SetDocument(ctx, models.PostsPath(req.Owner), req.PostID, post.ToFields()); err != nil {
		logg.Error("relay", "Failed to write like state", err)
		return failed(err, revert)
	}

	if liked && req.Owner != req.Viewer {
		r.notify(ctx, appkafka.NewEvent(models.NotificationLike, req.Viewer, req.Owner, req.PostID))
	}
	return Outcome{Applied: true, revert: revert}
}

// ToggleFollow writes both sides of the follow edge, following side first.
// There is no compensation: if the second write fails the first stays, and
// the error wraps gateway.ErrHalfWrittenEdge.
func (r *Relay) ToggleFollow(ctx context.Context, req FollowRequest) Outcome {
	if req.Viewer == "" || req.Target == "" || req.Viewer == req.Target {
		return failed(fmt.Errorf("%w: invalid follow pair", gateway.ErrMalformedData), nil)
	}
	follow := req.State == Following
	if !follow && req.State != NotFollowing {
		return failed(fmt.Errorf("%w: unknown follow state %q", gateway.ErrMalformedData, req.State), nil)
	}

	if err := r.writeEdge(ctx, models.FollowingPath(req.Viewer), req.Target, follow); err != nil {
		logg.Error("relay", "Failed to write following side of edge", err)
		return failed(err, nil)
	}
	if err := r.writeEdge(ctx, models.FollowersPath(req.Target), req.Viewer, follow); err != nil {
		err = fmt.Errorf("%w: %w", gateway.ErrHalfWrittenEdge, err)
		logg.Error("relay", "Failed to write followers side of edge", err)
		return failed(err, nil)
	}

	if follow {
		r.notify(ctx, appkafka.NewEvent(models.NotificationFollow, req.Viewer, req.Target, ""))
	}
	return Outcome{Applied: true}
}

func (r *Relay) writeEdge(ctx context.Context, collection, id string, present bool) error {
	if present {
		return r.docs.SetDocument(ctx, collection, id, gateway.Fields{"valid": true})
	}
	return r.docs.DeleteDocument(ctx, collection, id)
}

// SubmitComment appends a comment to a post. Blank text is ignored: the
// outcome is neither applied nor an error.
func (r *Relay) SubmitComment(ctx context.Context, req CommentRequest) Outcome {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Outcome{}
	}
	if req.PostID == "" || req.Owner == "" || req.Viewer == "" {
		return failed(fmt.Errorf("%w: incomplete comment request", gateway.ErrMalformedData), nil)
	}

	if _, err := r.docs.GetDocument(ctx, models.PostsPath(req.Owner), req.PostID); err != nil {
		return failed(err, nil)
	}

	c := models.Comment{
		ID:         uuid.NewString(),
		Username:   req.Viewer,
		Text:       text,
		PostedDate: models.FormatDate(r.now()),
	}
	if err := r.docs.SetDocument(ctx, models.CommentsPath(req.Owner, req.PostID), c.ID, c.ToFields()); err != nil {
		logg.Error("relay", "Failed to write comment", err)
		return failed(err, nil)
	}

	if req.Owner != req.Viewer {
		r.notify(ctx, appkafka.NewEvent(models.NotificationComment, req.Viewer, req.Owner, req.PostID))
	}
	return Outcome{Applied: true}
}

// CreatePost uploads the image and then writes a post document referencing
// the blob key. Readers resolve the key to a URL when they build the post's
// view. A failed document write leaves the blob orphaned.
func (r *Relay) CreatePost(ctx context.Context, req CreatePostRequest) PostOutcome {
	if req.Viewer == "" || len(req.Image) == 0 {
		return PostOutcome{Outcome: failed(fmt.Errorf("%w: post needs a viewer and an image", gateway.ErrMalformedData), nil)}
	}

	now := r.now()
	id := NewPostID(req.Viewer, r.randN(), now)
	key := models.PostImageKey(req.Viewer, id)

	if err := r.blobs.Upload(ctx, key, req.Image); err != nil {
		logg.Error("relay", "Failed to upload post image", err)
		return PostOutcome{Outcome: failed(err, nil)}
	}

	post := models.Post{
		ID:         id,
		Caption:    req.Caption,
		PostedDate: models.FormatDate(now),
		ImageRef:   key,
		Likers:     []string{},
	}
	if err := r.docs.SetDocument(ctx, models.PostsPath(req.Viewer), id, post.ToFields()); err != nil {
		logg.Error("relay", "Failed to write post document, blob left orphaned", err)
		return PostOutcome{Outcome: failed(err, nil)}
	}

	logg.Info("relay", "Post created by "+req.Viewer)
	return PostOutcome{Outcome: Outcome{Applied: true}, Post: post}
}

// NewPostID builds "{username}_{random}_{epochSeconds}".
func NewPostID(username string, random int, at time.Time) string {
	return fmt.Sprintf("%s_%d_%d", username, random, at.Unix())
}

func (r *Relay) notify(ctx context.Context, e appkafka.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, e); err != nil {
		logg.Warn("relay", "Failed to publish "+string(e.Kind)+" event", err)
	}
}
