package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sprucelab/bookmarksync/internal/wire"
)

// client is a minimal JSON client for the sync endpoint. One request per
// sync round; retry policy belongs to the caller, not here.
type client struct {
	baseURL  string
	deviceID string
	http     *http.Client
}

func newClient(baseURL, deviceID string) *client {
	return &client{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type syncRequest struct {
	DeviceID  string `json:"device_id,omitempty"`
	Bookmarks struct {
		ModifiedSince string        `json:"modified_since,omitempty"`
		Updates       []wire.Change `json:"updates"`
	} `json:"bookmarks"`
}

type syncResponse struct {
	Entries []wire.Change
	Cursor  string
}

// Sync uploads the outgoing batch and returns the server's changes since
// the given cursor, plus the new cursor to persist once the round commits.
func (c *client) Sync(ctx context.Context, since string, updates []wire.Change) (*syncResponse, error) {
	var reqBody syncRequest
	reqBody.DeviceID = c.deviceID
	reqBody.Bookmarks.ModifiedSince = since
	reqBody.Bookmarks.Updates = updates
	if reqBody.Bookmarks.Updates == nil {
		reqBody.Bookmarks.Updates = []wire.Change{}
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/sync/data", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach sync server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var parsed struct {
		Bookmarks struct {
			Entries      []wire.Change `json:"entries"`
			LastModified string        `json:"last_modified"`
		} `json:"bookmarks"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &syncResponse{
		Entries: parsed.Bookmarks.Entries,
		Cursor:  parsed.Bookmarks.LastModified,
	}, nil
}
