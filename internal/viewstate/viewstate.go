// Package viewstate turns feed entries into render-ready sequences of typed
// display segments.
package viewstate

import "example.com/photofeed/internal/models"

type SegmentKind string

const (
	SegmentPoster    SegmentKind = "poster"
	SegmentMedia     SegmentKind = "media"
	SegmentActions   SegmentKind = "actions"
	SegmentLikeCount SegmentKind = "like_count"
	SegmentCaption   SegmentKind = "caption"
	SegmentComment   SegmentKind = "comment"
	SegmentTimestamp SegmentKind = "timestamp"
)

type PosterSegment struct {
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

type MediaSegment struct {
	URL string `json:"url"`
}

type ActionsSegment struct {
	IsLiked bool `json:"is_liked"`
}

type LikeCountSegment struct {
	Count int `json:"count"`
}

type CaptionSegment struct {
	Username string `json:"username"`
	Caption  string `json:"caption"`
}

type CommentSegment struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type TimestampSegment struct {
	PostedDate string `json:"posted_date"`
}

// Segment is one display unit. Exactly one payload matching Kind is set.
type Segment struct {
	Kind      SegmentKind       `json:"kind"`
	Poster    *PosterSegment    `json:"poster,omitempty"`
	Media     *MediaSegment     `json:"media,omitempty"`
	Actions   *ActionsSegment   `json:"actions,omitempty"`
	LikeCount *LikeCountSegment `json:"like_count,omitempty"`
	Caption   *CaptionSegment   `json:"caption,omitempty"`
	Comment   *CommentSegment   `json:"comment,omitempty"`
	Timestamp *TimestampSegment `json:"timestamp,omitempty"`
}

// PostViewState is the rendered form of one feed entry. It carries the entry
// it was built from so entry and view lists can never drift apart.
type PostViewState struct {
	Entry    models.FeedEntry `json:"entry"`
	Segments []Segment        `json:"segments"`
}

// Kinds lists the segment kinds in display order.
func (v PostViewState) Kinds() []SegmentKind {
	kinds := make([]SegmentKind, len(v.Segments))
	for i, s := range v.Segments {
		kinds[i] = s.Kind
	}
	return kinds
}

// IsLiked reports the action bar's like state.
func (v PostViewState) IsLiked() bool {
	for _, s := range v.Segments {
		if s.Kind == SegmentActions && s.Actions != nil {
			return s.Actions.IsLiked
		}
	}
	return false
}

// LikeCount reports the like-count segment's value.
func (v PostViewState) LikeCount() int {
	for _, s := range v.Segments {
		if s.Kind == SegmentLikeCount && s.LikeCount != nil {
			return s.LikeCount.Count
		}
	}
	return 0
}

// SetLiked applies viewer's like state to the entry's likers and rewrites the
// action and like-count segments. It returns the previous like state.
func (v *PostViewState) SetLiked(viewer string, liked bool) bool {
	prev := v.Entry.Post.HasLiker(viewer)
	if liked {
		v.Entry.Post.AddLiker(viewer)
	} else {
		v.Entry.Post.RemoveLiker(viewer)
	}
	for i := range v.Segments {
		switch v.Segments[i].Kind {
		case SegmentActions:
			v.Segments[i].Actions = &ActionsSegment{IsLiked: liked}
		case SegmentLikeCount:
			v.Segments[i].LikeCount = &LikeCountSegment{Count: len(v.Entry.Post.Likers)}
		}
	}
	return prev
}

// Clone returns a deep copy safe to hand out of a lock.
func (v PostViewState) Clone() PostViewState {
	out := PostViewState{Entry: v.Entry}
	out.Entry.Post.Likers = append([]string(nil), v.Entry.Post.Likers...)
	out.Segments = make([]Segment, len(v.Segments))
	for i, s := range v.Segments {
		out.Segments[i] = s.clone()
	}
	return out
}

func (s Segment) clone() Segment {
	c := Segment{Kind: s.Kind}
	if s.Poster != nil {
		p := *s.Poster
		c.Poster = &p
	}
	if s.Media != nil {
		m := *s.Media
		c.Media = &m
	}
	if s.Actions != nil {
		a := *s.Actions
		c.Actions = &a
	}
	if s.LikeCount != nil {
		l := *s.LikeCount
		c.LikeCount = &l
	}
	if s.Caption != nil {
		cp := *s.Caption
		c.Caption = &cp
	}
	if s.Comment != nil {
		cm := *s.Comment
		c.Comment = &cm
	}
	if s.Timestamp != nil {
		t := *s.Timestamp
		c.Timestamp = &t
	}
	return c
}
