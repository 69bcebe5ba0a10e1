package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// HTTPClient talks to the JSON API served by server.NewHTTPHandler.
type HTTPClient struct {
	base  string
	token string
	hc    *http.Client
}

// NewHTTPClient targets baseURL, e.g. "http://localhost:8080". A non-empty
// token is sent as a bearer credential.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), token: token, hc: &http.Client{}}
}

func (c *HTTPClient) Close() error { return nil }

// APIError is a failure response without a recognised error code, such as
// an auth rejection or a proxy error page.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// call sends body as JSON and decodes the reply into a new T.
func call[T any](ctx context.Context, c *HTTPClient, method, path string, body any) (*T, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeFailure(resp)
	}
	out := new(T)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return out, nil
}

// decodeFailure restores the typed error behind a coded response and falls
// back to APIError otherwise.
func decodeFailure(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	var body api.ErrorResponse
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if coded := restoreError(body.Code, body.Error); coded != nil {
		return coded
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

func nodePath(id string, action ...string) string {
	return "/v1/nodes/" + url.PathEscape(id) + strings.Join(append([]string{""}, action...), "/")
}

func edgeQuery(from, to, actor string) string {
	q := url.Values{"from": {from}, "to": {to}}
	if actor != "" {
		q.Set("actor", actor)
	}
	return "/v1/edges?" + q.Encode()
}

func (c *HTTPClient) CreateNode(ctx context.Context, req *api.CreateNodeRequest) (*model.Node, error) {
	return call[model.Node](ctx, c, http.MethodPost, "/v1/nodes", req)
}

func (c *HTTPClient) GetNode(ctx context.Context, id string) (*model.Node, error) {
	return call[model.Node](ctx, c, http.MethodGet, nodePath(id), nil)
}

func (c *HTTPClient) ResolveNode(ctx context.Context, id, actor string) (*api.StateChangeResponse, error) {
	return call[api.StateChangeResponse](ctx, c, http.MethodPost, nodePath(id, "resolve"), &api.NodeRequest{Actor: actor})
}

func (c *HTTPClient) ReopenNode(ctx context.Context, id, actor string) (*api.StateChangeResponse, error) {
	return call[api.StateChangeResponse](ctx, c, http.MethodPost, nodePath(id, "reopen"), &api.NodeRequest{Actor: actor})
}

func (c *HTTPClient) DeleteNode(ctx context.Context, id, actor string) (*api.DeleteNodeResponse, error) {
	path := nodePath(id)
	if actor != "" {
		path += "?" + url.Values{"actor": {actor}}.Encode()
	}
	return call[api.DeleteNodeResponse](ctx, c, http.MethodDelete, path, nil)
}

func (c *HTTPClient) Blocking(ctx context.Context, id string) ([]*model.Node, error) {
	resp, err := call[api.NodesResponse](ctx, c, http.MethodGet, nodePath(id, "blocking"), nil)
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *HTTPClient) BlockedBy(ctx context.Context, id string) ([]*model.Node, error) {
	resp, err := call[api.NodesResponse](ctx, c, http.MethodGet, nodePath(id, "blocked-by"), nil)
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *HTTPClient) Dependencies(ctx context.Context, id string) (*model.DependencySummary, error) {
	return call[model.DependencySummary](ctx, c, http.MethodGet, nodePath(id, "dependencies"), nil)
}

func (c *HTTPClient) AddEdge(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error) {
	return call[model.Edge](ctx, c, http.MethodPost, "/v1/edges", req)
}

func (c *HTTPClient) GetEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	return call[model.Edge](ctx, c, http.MethodGet, edgeQuery(from, to, ""), nil)
}

func (c *HTTPClient) RemoveEdge(ctx context.Context, from, to, actor string) (*model.Edge, error) {
	return call[model.Edge](ctx, c, http.MethodDelete, edgeQuery(from, to, actor), nil)
}

func (c *HTTPClient) CheckEdge(ctx context.Context, from, to string) (*model.CycleCheck, error) {
	return call[model.CycleCheck](ctx, c, http.MethodPost, "/v1/edges/check", &api.EdgeRequest{From: from, To: to})
}

// Graph fetches a ticket snapshot when TicketID is set, else the project's.
func (c *HTTPClient) Graph(ctx context.Context, req *api.GraphRequest) (*model.GraphSnapshot, error) {
	path := "/v1/projects/" + url.PathEscape(req.ProjectID) + "/graph"
	if req.TicketID != "" {
		path = "/v1/tickets/" + url.PathEscape(req.TicketID) + "/graph"
	}
	q := url.Values{}
	if req.IncludeResolved {
		q.Set("include_resolved", "true")
	}
	if req.IncludeDiscoveries {
		q.Set("include_discoveries", "true")
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return call[model.GraphSnapshot](ctx, c, http.MethodGet, path, nil)
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	resp, err := call[api.HealthResponse](ctx, c, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}
