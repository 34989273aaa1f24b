package source

import (
	"context"
	"strings"
)

// Status is the accessibility state of a profile at one point in time.
type Status string

const (
	StatusActive   Status = "active"
	StatusPrivate  Status = "private"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Profile holds the public attributes of an accessible profile.
type Profile struct {
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Followers  int    `json:"follower_count"`
	Following  int    `json:"following_count"`
	Posts      int    `json:"post_count"`
	Private    bool   `json:"is_private"`
	Verified   bool   `json:"is_verified"`
	Bio        string `json:"bio"`
	PictureURL string `json:"profile_pic_url"`
}

// Result is the outcome of one fetch attempt. Profile is non-nil only
// when Status is StatusActive.
type Result struct {
	Status  Status   `json:"status"`
	Profile *Profile `json:"profile,omitempty"`
}

// Source fetches the current accessibility status of a profile.
//
// Expected outcomes (missing profile, private profile, transient network
// failure) are statuses, not errors; Fetch returns a non-nil error only
// when the request could not be attempted at all.
type Source interface {
	Name() string
	Fetch(ctx context.Context, username string) (Result, error)
}

// Normalize canonicalizes a raw identifier: trimmed, lowercased, leading
// "@" stripped. Callers must normalize before any lookup or storage.
func Normalize(raw string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "@")
}
