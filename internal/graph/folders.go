package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ResolveFolder finds or creates a child folder with the given name under
// parentID and returns its identifier. The remote store is the source of
// truth: the lookup happens on every call and nothing is memoized, so the
// operation is idempotent from the caller's point of view. Creation uses
// rename-on-conflict, so two racing creators may legitimately end up with two
// differently named folders.
func (c *Client) ResolveFolder(ctx context.Context, parentID, name string) (string, error) {
	if parentID == "" || name == "" {
		return "", fmt.Errorf("parent id and folder name are required: %w", ErrFolder)
	}

	endpoint := fmt.Sprintf("%s/items/%s/children", c.base, parentID)
	resp, err := c.doAuthorized(ctx, func(string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return "", fmt.Errorf("list children of %s: %w", parentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("list children of %s: %s: %w", parentID, errorText(resp), ErrFolder)
	}

	var listing struct {
		Value []driveItem `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return "", fmt.Errorf("decode children of %s: %w", parentID, err)
	}
	for _, item := range listing.Value {
		if item.Name == name && item.Folder != nil {
			return item.ID, nil
		}
	}

	return c.createFolder(ctx, parentID, name)
}

// EnsurePath resolves a chain of folder names under rootID, creating levels as
// needed, and returns the identifier of the deepest one. Empty segments are
// skipped so an absent tag simply shortens the chain.
func (c *Client) EnsurePath(ctx context.Context, rootID string, names ...string) (string, error) {
	id := rootID
	for _, name := range names {
		if name == "" {
			continue
		}
		var err error
		id, err = c.ResolveFolder(ctx, id, name)
		if err != nil {
			return "", err
		}
	}
	return id, nil
}

func (c *Client) createFolder(ctx context.Context, parentID, name string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"name":                              name,
		"folder":                            map[string]interface{}{},
		"@microsoft.graph.conflictBehavior": "rename",
	})
	if err != nil {
		return "", fmt.Errorf("encode folder request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/items/%s/children", c.base, parentID)
	resp, err := c.doAuthorized(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("create folder %q under %s: %w", name, parentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create folder %q under %s: %s: %w", name, parentID, errorText(resp), ErrFolder)
	}

	var created driveItem
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode created folder: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create folder %q under %s: empty id in response: %w", name, parentID, ErrFolder)
	}
	return created.ID, nil
}
