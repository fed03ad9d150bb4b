// Package profile manages user accounts, relationships lookups, profile
// information and the notification inbox.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/logger"
	"example.com/photofeed/internal/models"
	"github.com/sourcegraph/conc"
)

var logg = logger.New()

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already registered")
)

// Service reads and writes user-level documents.
type Service struct {
	docs  gateway.DocumentStore
	blobs gateway.BlobStore
}

func NewService(docs gateway.DocumentStore, blobs gateway.BlobStore) *Service {
	return &Service{docs: docs, blobs: blobs}
}

// SignUp registers a user and uploads the optional profile picture. The user
// document is written first; a failed picture upload is reported but the
// account stays.
func (s *Service) SignUp(ctx context.Context, u models.User, picture []byte) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Username == "" || u.Email == "" || strings.Contains(u.Username, "/") {
		return fmt.Errorf("%w: username and email are required", gateway.ErrMalformedData)
	}

	if _, err := s.FindByUsername(ctx, u.Username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return err
	}
	if _, err := s.FindByEmail(ctx, u.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return err
	}

	if err := s.docs.SetDocument(ctx, models.UsersCollection, u.Username, u.ToFields()); err != nil {
		logg.Error("profile", "Failed to write user document", err)
		return err
	}

	if len(picture) > 0 {
		if err := s.blobs.Upload(ctx, models.ProfilePictureKey(u.Username), picture); err != nil {
			logg.Error("profile", "Failed to upload profile picture", err)
			return fmt.Errorf("profile picture: %w", err)
		}
	}

	logg.Info("profile", "User signed up: "+u.Username)
	return nil
}

func (s *Service) FindByUsername(ctx context.Context, username string) (models.User, error) {
	fields, err := s.docs.GetDocument(ctx, models.UsersCollection, username)
	if err != nil {
		return models.User{}, err
	}
	return models.UserFromFields(fields)
}

// FindByEmail scans the users collection for a matching email.
func (s *Service) FindByEmail(ctx context.Context, email string) (models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	users, err := s.listUsers(ctx)
	if err != nil {
		return models.User{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user with email: %w", gateway.ErrNotFound)
}

// Search returns users whose username starts with prefix, ignoring case,
// sorted by username.
func (s *Service) Search(ctx context.Context, prefix string) ([]models.User, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	users, err := s.listUsers(ctx)
	if err != nil {
		return nil, err
	}
	res := []models.User{}
	for _, u := range users {
		if strings.HasPrefix(strings.ToLower(u.Username), prefix) {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Username < res[j].Username })
	return res, nil
}

func (s *Service) listUsers(ctx context.Context) ([]models.User, error) {
	docs, err := s.docs.ListDocuments(ctx, models.UsersCollection)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		u, err := models.UserFromFields(d.Fields)
		if err != nil {
			logg.Warn("profile", "Skipping malformed user "+d.ID, err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Counts returns follower, following and post counts. A list that fails
// counts as zero.
func (s *Service) Counts(ctx context.Context, username string) models.UserCounts {
	var counts models.UserCounts
	var wg conc.WaitGroup
	wg.Go(func() { counts.Followers = s.count(ctx, models.FollowersPath(username)) })
	wg.Go(func() { counts.Following = s.count(ctx, models.FollowingPath(username)) })
	wg.Go(func() { counts.Posts = s.count(ctx, models.PostsPath(username)) })
	wg.Wait()
	return counts
}

func (s *Service) count(ctx context.Context, collection string) int {
	docs, err := s.docs.ListDocuments(ctx, collection)
	if err != nil {
		logg.Warn("profile", "Count unavailable for "+collection, err)
		return 0
	}
	return len(docs)
}

// Followers lists the usernames following username, sorted.
func (s *Service) Followers(ctx context.Context, username string) ([]string, error) {
	return s.edges(ctx, models.FollowersPath(username))
}

// Following lists the usernames username follows, sorted.
func (s *Service) Following(ctx context.Context, username string) ([]string, error) {
	return s.edges(ctx, models.FollowingPath(username))
}

func (s *Service) edges(ctx context.Context, collection string) ([]string, error) {
	docs, err := s.docs.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.ID)
	}
	sort.Strings(names)
	return names, nil
}

// IsFollowing reports whether viewer follows target.
func (s *Service) IsFollowing(ctx context.Context, viewer, target string) (bool, error) {
	_, err := s.docs.GetDocument(ctx, models.FollowingPath(viewer), target)
	if errors.Is(err, gateway.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetInfo returns the user's profile information. A user who never set any
// gets the zero value.
func (s *Service) GetInfo(ctx context.Context, username string) (models.UserInfo, error) {
	fields, err := s.docs.GetDocument(ctx, models.InformationPath(username), models.InformationDocID)
	if errors.Is(err, gateway.ErrNotFound) {
		return models.UserInfo{}, nil
	}
	if err != nil {
		return models.UserInfo{}, err
	}
	return models.UserInfoFromFields(fields)
}

func (s *Service) SetInfo(ctx context.Context, username string, info models.UserInfo) error {
	return s.docs.SetDocument(ctx, models.InformationPath(username), models.InformationDocID, info.ToFields())
}

// Notifications returns the user's inbox, newest first. Malformed entries are
// skipped.
func (s *Service) Notifications(ctx context.Context, username string) ([]models.Notification, error) {
	docs, err := s.docs.ListDocuments(ctx, models.NotificationsPath(username))
	if err != nil {
		return nil, err
	}
	res := make([]models.Notification, 0, len(docs))
	for _, d := range docs {
		n, err := models.NotificationFromFields(d.Fields)
		if err != nil {
			logg.Warn("profile", "Skipping malformed notification "+d.ID, err)
			continue
		}
		res = append(res, n)
	}
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i].Date(), res[j].Date()
		if !a.Equal(b) {
			return a.After(b)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}
