package models

import "fmt"

// UsersCollection holds one profile document per username.
const UsersCollection = "users"

// InformationDocID is the id of the profile information document.
const InformationDocID = "basic"

func PostsPath(username string) string {
	return fmt.Sprintf("users/%s/posts", username)
}

func FollowersPath(username string) string {
	return fmt.Sprintf("users/%s/followers", username)
}

func FollowingPath(username string) string {
	return fmt.Sprintf("users/%s/following", username)
}

func NotificationsPath(username string) string {
	return fmt.Sprintf("users/%s/notifications", username)
}

func InformationPath(username string) string {
	return fmt.Sprintf("users/%s/information", username)
}

func CommentsPath(owner, postID string) string {
	return fmt.Sprintf("users/%s/posts/%s/comments", owner, postID)
}

// Blob paths

func ProfilePictureKey(username string) string {
	return fmt.Sprintf("%s/profile_picture.png", username)
}

func PostImageKey(username, postID string) string {
	return fmt.Sprintf("%s/posts/%s.png", username, postID)
}
