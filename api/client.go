// Package api is a small client for the admin REST API. Every call goes
// through a session so protected requests carry the current access token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-authgate/admin-session/session"
)

// Requester sends a request; *session.Session satisfies it.
type Requester interface {
	Do(req *http.Request) (*session.Response, error)
}

// Resource is a protected collection exposed by the admin API.
type Resource string

const (
	Jobs      Resource = "jobs"
	Workers   Resource = "workers"
	Assets    Resource = "assets"
	Templates Resource = "templates"
)

// Resources lists every known resource.
var Resources = []Resource{Jobs, Workers, Assets, Templates}

// ParseResource validates a resource name.
func ParseResource(name string) (Resource, error) {
	for _, r := range Resources {
		if strings.EqualFold(name, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", name)
}

// Item is a single resource record; its shape depends on the resource.
type Item map[string]any

// ID returns the record's id field as a string.
func (i Item) ID() string {
	if v, ok := i["id"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// Client calls the admin API.
type Client struct {
	baseURL string
	r       Requester
}

// New returns a Client for baseURL.
func New(baseURL string, r Requester) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), r: r}
}

// List returns every record of res.
func (c *Client) List(ctx context.Context, res Resource) ([]Item, error) {
	var items []Item
	if err := c.call(ctx, http.MethodGet, "/"+string(res), nil, &items); err != nil {
		return nil, fmt.Errorf("list %s: %w", res, err)
	}
	return items, nil
}

// Get returns one record of res.
func (c *Client) Get(ctx context.Context, res Resource, id string) (Item, error) {
	var item Item
	path := "/" + string(res) + "/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodGet, path, nil, &item); err != nil {
		return nil, fmt.Errorf("get %s %s: %w", res, id, err)
	}
	return item, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*session.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.r.Do(req)
}
