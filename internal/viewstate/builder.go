package viewstate

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/logger"
	"example.com/photofeed/internal/models"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
)

var logg = logger.New()

// Builder resolves poster assets, post media and like state for feed
// entries. Posts store blob keys, so media URLs are resolved on every build
// and never outlive the blob store's signing window.
type Builder struct {
	profiles gateway.URLResolver
	media    gateway.URLResolver
	docs     gateway.DocumentStore
	fanout   int
}

// NewBuilder creates a Builder. profiles may be a caching resolver; media
// should resolve against the blob store directly. docs may be nil, in which
// case no comment previews are produced.
func NewBuilder(profiles, media gateway.URLResolver, docs gateway.DocumentStore, fanout int) *Builder {
	if fanout <= 0 {
		fanout = runtime.NumCPU()
	}
	return &Builder{profiles: profiles, media: media, docs: docs, fanout: fanout}
}

type built struct {
	view PostViewState
	err  error
}

// Build returns one view state per resolvable entry, in input order. Entries
// whose profile picture or media key cannot be resolved are dropped.
func (b *Builder) Build(ctx context.Context, entries []models.FeedEntry, viewer string) []PostViewState {
	mapper := iter.Mapper[models.FeedEntry, built]{MaxGoroutines: b.fanout}
	results := mapper.Map(entries, func(e *models.FeedEntry) built {
		v, err := b.buildOne(ctx, *e, viewer)
		return built{view: v, err: err}
	})

	views := make([]PostViewState, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			logg.Warn("viewstate", fmt.Sprintf("Dropping entry %d (%s)", i, entries[i].Post.ID), r.err)
			continue
		}
		views = append(views, r.view)
	}
	return views
}

// BuildEntry builds the view state of a single post, for example one opened
// from a notification.
func (b *Builder) BuildEntry(ctx context.Context, e models.FeedEntry, viewer string) (PostViewState, error) {
	return b.buildOne(ctx, e, viewer)
}

func (b *Builder) buildOne(ctx context.Context, e models.FeedEntry, viewer string) (PostViewState, error) {
	key, err := mediaKey(e.Post.ImageRef)
	if err != nil {
		return PostViewState{}, err
	}

	var profileURL, mediaURL string
	var profileErr, mediaErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		profileURL, profileErr = b.profiles.GetDownloadURL(ctx, models.ProfilePictureKey(e.Owner))
	})
	wg.Go(func() {
		mediaURL, mediaErr = b.media.GetDownloadURL(ctx, key)
	})
	wg.Wait()

	if profileErr != nil {
		return PostViewState{}, fmt.Errorf("profile picture for %s: %w", e.Owner, profileErr)
	}
	if mediaErr != nil {
		return PostViewState{}, fmt.Errorf("media for %s: %w", e.Post.ID, mediaErr)
	}

	e.Post.Likers = append([]string(nil), e.Post.Likers...)
	segments := []Segment{
		{Kind: SegmentPoster, Poster: &PosterSegment{Username: e.Owner, ProfilePictureURL: profileURL}},
		{Kind: SegmentMedia, Media: &MediaSegment{URL: mediaURL}},
		{Kind: SegmentActions, Actions: &ActionsSegment{IsLiked: e.Post.HasLiker(viewer)}},
		{Kind: SegmentLikeCount, LikeCount: &LikeCountSegment{Count: len(e.Post.Likers)}},
		{Kind: SegmentCaption, Caption: &CaptionSegment{Username: e.Owner, Caption: e.Post.Caption}},
	}
	if c, ok := b.latestComment(ctx, e); ok {
		segments = append(segments, Segment{Kind: SegmentComment, Comment: &CommentSegment{Username: c.Username, Text: c.Text}})
	}
	segments = append(segments, Segment{Kind: SegmentTimestamp, Timestamp: &TimestampSegment{PostedDate: e.Post.PostedDate}})

	return PostViewState{Entry: e, Segments: segments}, nil
}

// latestComment picks the most recent comment. Listing failures only cost
// the preview.
func (b *Builder) latestComment(ctx context.Context, e models.FeedEntry) (models.Comment, bool) {
	if b.docs == nil {
		return models.Comment{}, false
	}
	docs, err := b.docs.ListDocuments(ctx, models.CommentsPath(e.Owner, e.Post.ID))
	if err != nil {
		logg.Warn("viewstate", "Comment preview unavailable for "+e.Post.ID, err)
		return models.Comment{}, false
	}

	var latest models.Comment
	var latestAt time.Time
	found := false
	epoch := time.Time{}
	for _, d := range docs {
		c, err := models.CommentFromFields(d.Fields)
		if err != nil || c.Text == "" {
			continue
		}
		at := models.ParseDateOr(c.PostedDate, epoch)
		if !found || at.After(latestAt) || (at.Equal(latestAt) && c.ID > latest.ID) {
			latest, latestAt, found = c, at, true
		}
	}
	return latest, found
}

// mediaKey checks that a stored image reference is a relative blob key.
// Absolute URLs are rejected: a stored URL may be a presigned link that has
// since expired.
func mediaKey(ref string) (string, error) {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "..") {
		return "", fmt.Errorf("%w: media reference %q is not a blob key", gateway.ErrMalformedData, ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: media reference: %v", gateway.ErrMalformedData, err)
	}
	if u.IsAbs() || u.Host != "" {
		return "", fmt.Errorf("%w: media reference %q is a URL, not a blob key", gateway.ErrMalformedData, ref)
	}
	return ref, nil
}
