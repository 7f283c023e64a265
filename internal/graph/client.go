// Package graph is the cloud drive client: folder resolution, content upload,
// and share links, authenticated through a cached bearer token.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrAuth marks a failed credential refresh; no drive operation can
	// proceed without a token.
	ErrAuth = errors.New("credential refresh failed")
	// ErrFolder marks a failed folder lookup or creation.
	ErrFolder = errors.New("folder operation failed")
	// ErrUpload marks a failed content upload after the permitted retry.
	ErrUpload = errors.New("upload failed")
	// ErrShare marks a failed share-link request; it never unwinds an upload.
	ErrShare = errors.New("share link request failed")
)

// Client talks to the drive provider. All calls go through doAuthorized so an
// invalid-token response forces a refresh and a single retry.
type Client struct {
	base   string
	http   *http.Client
	tokens *TokenSource
}

// NewClient constructs a drive client rooted at base
// (e.g. https://graph.microsoft.com/v1.0/drive).
func NewClient(base string, httpClient *http.Client, tokens *TokenSource) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   httpClient,
		tokens: tokens,
	}
}

// Tokens exposes the credential cache for callers that need a forced refresh.
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

type driveItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
}

// doAuthorized runs build with a valid token and executes the request. On a
// 401 it forces a refresh through the token source (not a cache re-read) and
// retries exactly once; the second response is returned as-is for the caller
// to judge.
func (c *Client) doAuthorized(ctx context.Context, build func(token string) (*http.Request, error)) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return c.execute(build, token)
}

func (c *Client) execute(build func(token string) (*http.Request, error), token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.http.Do(req)
}

// errorText pulls a short description out of an error response body.
func errorText(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, text)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
