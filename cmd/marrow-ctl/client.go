// ABOUTME: HTTP client for the marrow agent API
// ABOUTME: JSON request/response helpers with bearer token auth and error decoding

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/marrowdev/marrow/internal/wire"
)

// Client talks to a running marrow agent.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the agent at baseURL. token may be empty
// when the agent runs without auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr wire.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("agent error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("agent error: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) (wire.PingResponse, error) {
	var resp wire.PingResponse
	err := c.do(ctx, http.MethodGet, "/ping", nil, &resp)
	return resp, err
}

func (c *Client) Register(ctx context.Context, name string) (wire.RegisterClientResponse, error) {
	var resp wire.RegisterClientResponse
	err := c.do(ctx, http.MethodPost, "/register_client", wire.RegisterClientRequest{Name: name}, &resp)
	return resp, err
}

func (c *Client) Unregister(ctx context.Context, clientID string) error {
	return c.do(ctx, http.MethodPost, "/unregister_client", wire.UnregisterClientRequest{ClientID: clientID}, nil)
}

func (c *Client) Heap(ctx context.Context, typeFilter string, withHash bool) (wire.HeapResponse, error) {
	q := url.Values{}
	if typeFilter != "" {
		q.Set("type", typeFilter)
	}
	if withHash {
		q.Set("hash", "1")
	}
	path := "/heap"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp wire.HeapResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

func (c *Client) ResolveType(ctx context.Context, name string) (wire.TypeResolveResponse, error) {
	var resp wire.TypeResolveResponse
	err := c.do(ctx, http.MethodGet, "/types/resolve?name="+url.QueryEscape(name), nil, &resp)
	return resp, err
}

func (c *Client) DumpType(ctx context.Context, name string) (wire.TypeDumpResponse, error) {
	var resp wire.TypeDumpResponse
	err := c.do(ctx, http.MethodGet, "/types/dump?name="+url.QueryEscape(name), nil, &resp)
	return resp, err
}

func (c *Client) Object(ctx context.Context, req wire.ObjectRequest) (wire.ObjectResponse, error) {
	var resp wire.ObjectResponse
	err := c.do(ctx, http.MethodPost, "/object", req, &resp)
	return resp, err
}

func (c *Client) Invoke(ctx context.Context, req wire.InvokeRequest) (wire.InvokeResponse, error) {
	var resp wire.InvokeResponse
	err := c.do(ctx, http.MethodPost, "/invoke", req, &resp)
	return resp, err
}

func (c *Client) GetField(ctx context.Context, handle wire.Handle, field string) (wire.FieldResponse, error) {
	var resp wire.FieldResponse
	err := c.do(ctx, http.MethodPost, "/get_field", wire.FieldRequest{Handle: handle, Field: field}, &resp)
	return resp, err
}

func (c *Client) SetField(ctx context.Context, handle wire.Handle, field string, value wire.Value) (wire.FieldResponse, error) {
	var resp wire.FieldResponse
	err := c.do(ctx, http.MethodPost, "/set_field", wire.FieldRequest{Handle: handle, Field: field, Value: &value}, &resp)
	return resp, err
}

func (c *Client) GetItem(ctx context.Context, handle wire.Handle, key wire.Value) (wire.IndexResponse, error) {
	var resp wire.IndexResponse
	err := c.do(ctx, http.MethodPost, "/get_item", wire.IndexRequest{Handle: handle, Key: key}, &resp)
	return resp, err
}

func (c *Client) Unpin(ctx context.Context, handle wire.Handle) error {
	return c.do(ctx, http.MethodPost, "/unpin", wire.UnpinRequest{Handle: handle}, nil)
}

func (c *Client) BatchMembers(ctx context.Context, handle wire.Handle, paths []string) (wire.BatchMembersResponse, error) {
	var resp wire.BatchMembersResponse
	err := c.do(ctx, http.MethodPost, "/batch/members", wire.BatchMembersRequest{Handle: handle, Paths: paths}, &resp)
	return resp, err
}

func (c *Client) BatchCollection(ctx context.Context, handle wire.Handle, paths []string) (wire.BatchCollectionResponse, error) {
	var resp wire.BatchCollectionResponse
	err := c.do(ctx, http.MethodPost, "/batch/collection", wire.BatchCollectionRequest{Handle: handle, Paths: paths}, &resp)
	return resp, err
}

func (c *Client) Die(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/die", nil, nil)
}
