package models

import (
	"fmt"
	"time"

	"example.com/photofeed/internal/gateway"
	"github.com/araddon/dateparse"
	"github.com/go-viper/mapstructure/v2"
)

// DateLayout is the layout used for every date this service writes.
const DateLayout = time.RFC3339

type User struct {
	Username string `json:"username" mapstructure:"username"`
	Email    string `json:"email" mapstructure:"email"`
}

type UserInfo struct {
	Name string `json:"name" mapstructure:"name"`
	Bio  string `json:"bio" mapstructure:"bio"`
}

type Post struct {
	ID         string   `json:"id" mapstructure:"id"`
	Caption    string   `json:"caption" mapstructure:"caption"`
	PostedDate string   `json:"posted_date" mapstructure:"posted_date"`
	ImageRef   string   `json:"image_ref" mapstructure:"image_ref"`
	Likers     []string `json:"likers" mapstructure:"likers"`
}

type Comment struct {
	ID         string `json:"id" mapstructure:"id"`
	Username   string `json:"username" mapstructure:"username"`
	Text       string `json:"text" mapstructure:"text"`
	PostedDate string `json:"posted_date" mapstructure:"posted_date"`
}

type NotificationKind string

const (
	NotificationLike    NotificationKind = "like"
	NotificationComment NotificationKind = "comment"
	NotificationFollow  NotificationKind = "follow"
)

type Notification struct {
	ID              string           `json:"id" mapstructure:"id"`
	Kind            NotificationKind `json:"kind" mapstructure:"kind"`
	Actor           string           `json:"actor" mapstructure:"actor"`
	PostID          string           `json:"post_id,omitempty" mapstructure:"post_id"`
	IsFollowingBack *bool            `json:"is_following_back,omitempty" mapstructure:"is_following_back"`
	PostedDate      string           `json:"posted_date" mapstructure:"posted_date"`
}

// FeedEntry is a post together with its owning username. It lives for one
// feed refresh.
type FeedEntry struct {
	Post  Post   `json:"post"`
	Owner string `json:"owner"`
}

type UserCounts struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
	Posts     int `json:"posts"`
}

// FormatDate renders t in DateLayout, UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a stored date string. Malformed or empty strings fall
// back to the current time.
func ParseDate(s string) time.Time {
	return ParseDateOr(s, time.Now())
}

// ParseDateOr parses s and returns fallback when it cannot.
func ParseDateOr(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return fallback
	}
	return t
}

// Date returns the absolute posting time of the post.
func (p Post) Date() time.Time { return ParseDate(p.PostedDate) }

func (n Notification) Date() time.Time { return ParseDate(n.PostedDate) }

// HasLiker reports whether username is in the likers set.
func (p Post) HasLiker(username string) bool {
	for _, u := range p.Likers {
		if u == username {
			return true
		}
	}
	return false
}

// AddLiker adds username to the likers set. It returns false if it was
// already present.
func (p *Post) AddLiker(username string) bool {
	if p.HasLiker(username) {
		return false
	}
	p.Likers = append(p.Likers, username)
	return true
}

// RemoveLiker removes every occurrence of username. It returns false if it
// was absent.
func (p *Post) RemoveLiker(username string) bool {
	kept := make([]string, 0, len(p.Likers))
	removed := false
	for _, u := range p.Likers {
		if u == username {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	p.Likers = kept
	return removed
}

// --- Document conversion ---

func (u User) ToFields() gateway.Fields {
	return gateway.Fields{"username": u.Username, "email": u.Email}
}

func (i UserInfo) ToFields() gateway.Fields {
	return gateway.Fields{"name": i.Name, "bio": i.Bio}
}

func (p Post) ToFields() gateway.Fields {
	likers := make([]string, len(p.Likers))
	copy(likers, p.Likers)
	return gateway.Fields{
		"id":          p.ID,
		"caption":     p.Caption,
		"posted_date": p.PostedDate,
		"image_ref":   p.ImageRef,
		"likers":      likers,
	}
}

func (c Comment) ToFields() gateway.Fields {
	return gateway.Fields{
		"id":          c.ID,
		"username":    c.Username,
		"text":        c.Text,
		"posted_date": c.PostedDate,
	}
}

func (n Notification) ToFields() gateway.Fields {
	f := gateway.Fields{
		"id":          n.ID,
		"kind":        string(n.Kind),
		"actor":       n.Actor,
		"posted_date": n.PostedDate,
	}
	if n.PostID != "" {
		f["post_id"] = n.PostID
	}
	if n.IsFollowingBack != nil {
		f["is_following_back"] = *n.IsFollowingBack
	}
	return f
}

func UserFromFields(f gateway.Fields) (User, error) {
	var u User
	if err := decode(f, &u); err != nil {
		return User{}, err
	}
	if u.Username == "" {
		return User{}, fmt.Errorf("%w: user without username", gateway.ErrMalformedData)
	}
	return u, nil
}

func UserInfoFromFields(f gateway.Fields) (UserInfo, error) {
	var i UserInfo
	err := decode(f, &i)
	return i, err
}

func PostFromFields(f gateway.Fields) (Post, error) {
	var p Post
	if err := decode(f, &p); err != nil {
		return Post{}, err
	}
	if p.ID == "" {
		return Post{}, fmt.Errorf("%w: post without id", gateway.ErrMalformedData)
	}
	return p, nil
}

func CommentFromFields(f gateway.Fields) (Comment, error) {
	var c Comment
	if err := decode(f, &c); err != nil {
		return Comment{}, err
	}
	return c, nil
}

func NotificationFromFields(f gateway.Fields) (Notification, error) {
	var n Notification
	if err := decode(f, &n); err != nil {
		return Notification{}, err
	}
	if n.ID == "" || n.Kind == "" {
		return Notification{}, fmt.Errorf("%w: notification without id or kind", gateway.ErrMalformedData)
	}
	return n, nil
}

func decode(f gateway.Fields, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(f)); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrMalformedData, err)
	}
	return nil
}
