package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

// Item describes an uploaded drive item.
type Item struct {
	ID     string
	Name   string
	WebURL string
}

// Upload streams the file at srcPath into the folder under the given filename
// and returns the provider-assigned item. A 401 on the first attempt forces a
// token refresh and exactly one retry; a second authorization failure is fatal.
func (c *Client) Upload(ctx context.Context, folderID, filename, srcPath string) (*Item, error) {
	if folderID == "" || filename == "" {
		return nil, fmt.Errorf("folder id and filename are required: %w", ErrUpload)
	}

	endpoint := fmt.Sprintf("%s/items/%s:/%s:/content", c.base, folderID, url.PathEscape(filename))
	resp, err := c.doAuthorized(ctx, func(string) (*http.Request, error) {
		// The body is consumed per attempt, so each build opens the file anew.
		f, err := os.Open(srcPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", srcPath, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", srcPath, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, f)
		if err != nil {
			f.Close()
			return nil, err
		}
		req.ContentLength = info.Size()
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload %q: %s: %w", filename, errorText(resp), ErrUpload)
	}

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if item.ID == "" || item.WebURL == "" {
		return nil, fmt.Errorf("upload %q: incomplete item in response: %w", filename, ErrUpload)
	}
	return &Item{ID: item.ID, Name: item.Name, WebURL: item.WebURL}, nil
}

// CreateShareLink requests a view link with the given visibility scope for an
// item or folder. Failure here is reported independently and must not unwind
// an already-successful upload.
func (c *Client) CreateShareLink(ctx context.Context, itemID, scope string) (string, error) {
	if itemID == "" {
		return "", fmt.Errorf("item id is required: %w", ErrShare)
	}
	if scope == "" {
		scope = "anonymous"
	}

	payload, err := json.Marshal(map[string]string{
		"type":  "view",
		"scope": scope,
	})
	if err != nil {
		return "", fmt.Errorf("encode share request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/items/%s/createLink", c.base, itemID)
	resp, err := c.doAuthorized(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("share %s: %w", itemID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("share %s: %s: %w", itemID, errorText(resp), ErrShare)
	}

	var decoded struct {
		Link struct {
			WebURL string `json:"webUrl"`
		} `json:"link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode share response: %w", err)
	}
	if decoded.Link.WebURL == "" {
		return "", fmt.Errorf("share %s: empty link in response: %w", itemID, ErrShare)
	}
	return decoded.Link.WebURL, nil
}
