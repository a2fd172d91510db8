// Package httpremote implements the remote store contract against the
// self-hosted jukutatsu service.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/remote"
	"github.com/hyperengineering/jukutatsu/internal/types"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 30 * time.Second

// Client talks to the service's /api/v1 REST surface.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	themes   *collection[journal.Theme]
	insights *collection[journal.Insight]
	profiles *collection[journal.Owner]
}

var (
	_ journal.Remote          = (*Client)(nil)
	_ journal.DeviceRegistrar = (*Client)(nil)
)

// New creates a Client for the service at baseURL. A zero timeout selects
// DefaultTimeout.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
	c.themes = &collection[journal.Theme]{c: c, kind: types.KindThemes}
	c.insights = &collection[journal.Insight]{c: c, kind: types.KindInsights}
	c.profiles = &collection[journal.Owner]{c: c, kind: types.KindProfiles}
	return c
}

func (c *Client) Themes() journal.Collection[journal.Theme]     { return c.themes }
func (c *Client) Insights() journal.Collection[journal.Insight] { return c.insights }
func (c *Client) Profiles() journal.Collection[journal.Owner]   { return c.profiles }

// Ping checks connectivity to the service.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// RegisterDevice registers d for ownerID.
func (c *Client) RegisterDevice(ctx context.Context, ownerID string, d journal.Device) error {
	resp, err := c.sendRequest(ctx, http.MethodPost, "/api/v1/devices", types.DeviceRegistration{
		OwnerID:        ownerID,
		InstallationID: d.InstallationID,
		Platform:       d.Platform,
		Endpoint:       d.Endpoint,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusNoContent)
}

// sendRequest sends an authenticated request to the service
func (c *Client) sendRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// checkStatus maps unexpected responses to errors; 404 becomes
// remote.ErrNotFound.
func checkStatus(resp *http.Response, want ...int) error {
	for _, code := range want {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return remote.ErrNotFound
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}

type collection[T any] struct {
	c    *Client
	kind string
}

func (col *collection[T]) path(id string) string {
	p := "/api/v1/" + col.kind
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (col *collection[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	resp, err := col.c.sendRequest(ctx, http.MethodGet, col.path("")+"?owner_id="+url.QueryEscape(ownerID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, fmt.Errorf("list %s: %w", col.kind, err)
	}

	var out struct {
		Items []T `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", col.kind, err)
	}
	return out.Items, nil
}

func (col *collection[T]) Insert(ctx context.Context, item T) error {
	resp, err := col.c.sendRequest(ctx, http.MethodPost, col.path(""), item)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated, http.StatusOK); err != nil {
		return fmt.Errorf("insert %s: %w", col.kind, err)
	}
	return nil
}

func (col *collection[T]) Update(ctx context.Context, id string, fields journal.Fields) error {
	resp, err := col.c.sendRequest(ctx, http.MethodPatch, col.path(id), fields)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("update %s %s: %w", col.kind, id, err)
	}
	return nil
}

// Delete treats an already-missing entity as deleted.
func (col *collection[T]) Delete(ctx context.Context, id string) error {
	resp, err := col.c.sendRequest(ctx, http.MethodDelete, col.path(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusNoContent, http.StatusOK, http.StatusNotFound); err != nil {
		return fmt.Errorf("delete %s %s: %w", col.kind, id, err)
	}
	return nil
}
