package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.instagram.com"

// igAppID is the app id Instagram's own web client sends; requests
// without it get redirected to the login wall.
const igAppID = "936619743392459"

var userAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 13; SM-G998B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Instagram fetches profile status via the public web_profile_info endpoint.
// Safe for concurrent use across different usernames.
type Instagram struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewInstagram creates an Instagram profile source. proxyURL may be empty.
// A zero timeout defaults to 10 seconds.
func NewInstagram(proxyURL string, timeout time.Duration) (*Instagram, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Instagram{
		client:  &http.Client{Timeout: timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		baseURL: defaultBaseURL,
	}, nil
}

func (ig *Instagram) Name() string { return "instagram" }

// Fetch returns the current status of username. A timed-out or otherwise
// failed request yields StatusError, not an error; the caller's next tick
// is the retry mechanism.
func (ig *Instagram) Fetch(ctx context.Context, username string) (Result, error) {
	if err := ig.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	endpoint := fmt.Sprintf("%s/api/v1/users/web_profile_info/?username=%s", ig.baseURL, url.QueryEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request for %s: %w", username, err)
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("X-IG-App-ID", igAppID)

	resp, err := ig.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{Status: StatusError}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{Status: StatusNotFound}, nil
	case resp.StatusCode != http.StatusOK:
		return Result{Status: StatusError}, nil
	}

	var payload struct {
		Data struct {
			User *struct {
				Username       string `json:"username"`
				FullName       string `json:"full_name"`
				Biography      string `json:"biography"`
				IsPrivate      bool   `json:"is_private"`
				IsVerified     bool   `json:"is_verified"`
				ProfilePicURL  string `json:"profile_pic_url_hd"`
				EdgeFollowedBy struct {
					Count int `json:"count"`
				} `json:"edge_followed_by"`
				EdgeFollow struct {
					Count int `json:"count"`
				} `json:"edge_follow"`
				EdgeOwnerToTimelineMedia struct {
					Count int `json:"count"`
				} `json:"edge_owner_to_timeline_media"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{Status: StatusError}, nil
	}

	user := payload.Data.User
	if user == nil {
		// 200 with an empty user block: the profile exists but its data
		// is not served to anonymous clients.
		return Result{Status: StatusPrivate}, nil
	}

	name := user.Username
	if name == "" {
		name = username
	}
	return Result{
		Status: StatusActive,
		Profile: &Profile{
			Username:   name,
			FullName:   user.FullName,
			Followers:  user.EdgeFollowedBy.Count,
			Following:  user.EdgeFollow.Count,
			Posts:      user.EdgeOwnerToTimelineMedia.Count,
			Private:    user.IsPrivate,
			Verified:   user.IsVerified,
			Bio:        user.Biography,
			PictureURL: user.ProfilePicURL,
		},
	}, nil
}
