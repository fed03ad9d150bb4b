package feed

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/logger"
	"example.com/photofeed/internal/models"
	"github.com/sourcegraph/conc/iter"
)

var logg = logger.New()

// Aggregator assembles a viewer's feed from the posts of everyone they follow
// plus their own.
type Aggregator struct {
	docs   gateway.DocumentStore
	fanout int
}

// NewAggregator creates an Aggregator. fanout caps concurrent per-owner
// fetches; zero or less means runtime.NumCPU().
func NewAggregator(docs gateway.DocumentStore, fanout int) *Aggregator {
	if fanout <= 0 {
		fanout = runtime.NumCPU()
	}
	return &Aggregator{docs: docs, fanout: fanout}
}

type ownerPosts struct {
	owner string
	posts []models.Post
	err   error
}

// BuildFeed returns the viewer's feed ordered newest first. A failed
// relationship lookup yields an empty feed and ErrPartialFetch. Owners whose
// posts cannot be listed are logged and skipped.
func (a *Aggregator) BuildFeed(ctx context.Context, viewer string) ([]models.FeedEntry, error) {
	if viewer == "" {
		return []models.FeedEntry{}, fmt.Errorf("%w: empty viewer", gateway.ErrMalformedData)
	}

	following, err := a.following(ctx, viewer)
	if err != nil {
		err = fmt.Errorf("%w: %v", gateway.ErrPartialFetch, err)
		logg.Error("feed", "Relationship lookup failed, returning empty feed", err)
		return []models.FeedEntry{}, err
	}

	entries := a.collect(ctx, followSet(viewer, following))
	SortEntries(entries)

	logg.Debug("feed", fmt.Sprintf("Feed built with %d entries", len(entries)))
	return entries, nil
}

// Explore aggregates the posts of every registered user.
func (a *Aggregator) Explore(ctx context.Context) ([]models.FeedEntry, error) {
	users, err := a.docs.ListDocuments(ctx, models.UsersCollection)
	if err != nil {
		err = fmt.Errorf("%w: %v", gateway.ErrPartialFetch, err)
		logg.Error("feed", "User listing failed, returning empty explore feed", err)
		return []models.FeedEntry{}, err
	}

	owners := make([]string, 0, len(users))
	for _, u := range users {
		owners = append(owners, u.ID)
	}

	entries := a.collect(ctx, owners)
	SortEntries(entries)
	return entries, nil
}

// UserPosts returns one user's posts newest first, for a profile grid.
// Malformed posts are skipped.
func (a *Aggregator) UserPosts(ctx context.Context, owner string) ([]models.FeedEntry, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", gateway.ErrMalformedData)
	}
	posts, err := a.postsFor(ctx, owner)
	if err != nil {
		return nil, err
	}
	entries := make([]models.FeedEntry, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, models.FeedEntry{Post: p, Owner: owner})
	}
	SortEntries(entries)
	return entries, nil
}

// Post returns a single post as a feed entry.
func (a *Aggregator) Post(ctx context.Context, owner, postID string) (models.FeedEntry, error) {
	if owner == "" || postID == "" {
		return models.FeedEntry{}, fmt.Errorf("%w: empty post reference", gateway.ErrMalformedData)
	}
	fields, err := a.docs.GetDocument(ctx, models.PostsPath(owner), postID)
	if err != nil {
		return models.FeedEntry{}, err
	}
	p, err := models.PostFromFields(fields)
	if err != nil {
		return models.FeedEntry{}, err
	}
	return models.FeedEntry{Post: p, Owner: owner}, nil
}

func (a *Aggregator) following(ctx context.Context, viewer string) ([]string, error) {
	docs, err := a.docs.ListDocuments(ctx, models.FollowingPath(viewer))
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(docs))
	for _, d := range docs {
		res = append(res, d.ID)
	}
	return res, nil
}

// collect fetches every owner's posts concurrently and joins before
// concatenating, so the result never depends on completion order.
func (a *Aggregator) collect(ctx context.Context, owners []string) []models.FeedEntry {
	mapper := iter.Mapper[string, ownerPosts]{MaxGoroutines: a.fanout}
	results := mapper.Map(owners, func(owner *string) ownerPosts {
		posts, err := a.postsFor(ctx, *owner)
		return ownerPosts{owner: *owner, posts: posts, err: err}
	})

	var entries []models.FeedEntry
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			logg.Error("feed", "Skipping owner "+r.owner, fmt.Errorf("%w: %v", gateway.ErrOwnerFetch, r.err))
			continue
		}
		for _, p := range r.posts {
			entries = append(entries, models.FeedEntry{Post: p, Owner: r.owner})
		}
	}
	if failed > 0 {
		logg.Warn("feed", fmt.Sprintf("%d of %d owners failed", failed, len(owners)), gateway.ErrPartialBatch)
	}
	if entries == nil {
		entries = []models.FeedEntry{}
	}
	return entries
}

func (a *Aggregator) postsFor(ctx context.Context, owner string) ([]models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs, err := a.docs.ListDocuments(ctx, models.PostsPath(owner))
	if err != nil {
		return nil, err
	}
	posts := make([]models.Post, 0, len(docs))
	for _, d := range docs {
		p, err := models.PostFromFields(d.Fields)
		if err != nil {
			if errors.Is(err, gateway.ErrMalformedData) {
				logg.Warn("feed", "Dropping malformed post "+d.ID, err)
				continue
			}
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// followSet returns following plus viewer, deduplicated, viewer first.
func followSet(viewer string, following []string) []string {
	seen := map[string]bool{viewer: true}
	set := []string{viewer}
	for _, u := range following {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		set = append(set, u)
	}
	return set
}

// SortEntries orders entries by posting date, newest first. Equal dates fall
// back to owner then post id, both ascending. Unparseable dates count as now.
func SortEntries(entries []models.FeedEntry) {
	type dated struct {
		entry models.FeedEntry
		at    time.Time
	}

	now := time.Now()
	keyed := make([]dated, len(entries))
	for i, e := range entries {
		keyed[i] = dated{entry: e, at: models.ParseDateOr(e.Post.PostedDate, now)}
	}

	sort.SliceStable(keyed, func(i, j int) bool {
		a, b := keyed[i], keyed[j]
		if !a.at.Equal(b.at) {
			return a.at.After(b.at)
		}
		if a.entry.Owner != b.entry.Owner {
			return a.entry.Owner < b.entry.Owner
		}
		return a.entry.Post.ID < b.entry.Post.ID
	})

	for i := range keyed {
		entries[i] = keyed[i].entry
	}
}
