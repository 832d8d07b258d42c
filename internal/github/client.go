// Package github fetches markdown documents from a GitHub repository directory.
package github

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// ClientConfig configures NewClient. BaseURL overrides the public API endpoint.
type ClientConfig struct {
	Token   string
	BaseURL string
}

// NewClient creates a GitHub client that waits out primary and secondary rate
// limits. A token raises the hourly limit from 60 to 5000 requests.
func NewClient(cfg ClientConfig) (*Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, fmt.Errorf("create rate limit waiter: %w", err)
	}

	ghClient := github.NewClient(rateLimiter)
	if cfg.Token != "" {
		ghClient = ghClient.WithAuthToken(cfg.Token)
	}

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		ghClient.BaseURL = u
	}

	return &Client{Client: ghClient}, nil
}
