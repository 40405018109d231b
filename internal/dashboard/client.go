package dashboard

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

	"github.com/capitalize-ai/leadrelay/internal/model"
)

// StatusError is a non-2xx response from the relay API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("relay api: status %d: %s", e.StatusCode, e.Message)
}

// Client calls the relay HTTP API on behalf of an operator.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL authenticating with a bearer token.
// A nil httpClient uses one with a 15s timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// AuthHeader returns the header carrying the client's credentials.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// SocketURL returns the websocket endpoint of the API.
func (c *Client) SocketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v1/ws"
}

// Areas returns the areas assigned to the authenticated operator.
func (c *Client) Areas(ctx context.Context) ([]string, error) {
	var resp model.AreasResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/me/areas", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Areas, nil
}

// Leads lists leads of a disposition, optionally restricted to one area.
func (c *Client) Leads(ctx context.Context, disposition, area string) ([]model.Lead, error) {
	q := url.Values{}
	if disposition != "" {
		q.Set("disposition", disposition)
	}
	if area != "" {
		q.Set("area", area)
	}
	path := "/api/v1/leads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp model.ListLeadsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Leads, nil
}

// UpdateField persists one editable field of a lead.
func (c *Client) UpdateField(ctx context.Context, leadID string, field model.LeadField, value any) error {
	path := "/api/v1/leads/" + url.PathEscape(leadID) + "/fields/" + url.PathEscape(string(field))
	return c.do(ctx, http.MethodPatch, path, model.UpdateFieldRequest{Value: value}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header = c.AuthHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
