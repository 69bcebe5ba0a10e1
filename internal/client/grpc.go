package client

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// GRPCClient implements GraphClient using the gRPC transport. Messages are
// the api types carried over the JSON codec.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// When token is non-empty it is sent as a bearer token on every call.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}
	if token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(bearerToken(token)))
	}
	conn, err := grpc.NewClient(addr, append(dialOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// bearerToken sends an authorization header on every RPC. The connection
// is usually plaintext, so transport security is not required.
type bearerToken string

var _ credentials.PerRPCCredentials = bearerToken("")

func (t bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (bearerToken) RequireTransportSecurity() bool { return false }

// invoke calls method and converts a failed status back into a taxonomy
// error when its message carries a known code prefix.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, api.FullMethod(method), req, resp); err != nil {
		return fromStatus(err)
	}
	return nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	code, msg, found := strings.Cut(st.Message(), ": ")
	if !found {
		return err
	}
	if coded := restoreError(code, msg); coded != nil {
		return coded
	}
	return err
}

// --- Nodes ---

func (c *GRPCClient) CreateNode(ctx context.Context, req *api.CreateNodeRequest) (*model.Node, error) {
	var n model.Node
	if err := c.invoke(ctx, api.MethodCreateNode, req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *GRPCClient) GetNode(ctx context.Context, id string) (*model.Node, error) {
	var n model.Node
	if err := c.invoke(ctx, api.MethodGetNode, &api.NodeRequest{ID: id}, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *GRPCClient) ResolveNode(ctx context.Context, id, actor string) (*api.StateChangeResponse, error) {
	var resp api.StateChangeResponse
	if err := c.invoke(ctx, api.MethodResolveNode, &api.NodeRequest{ID: id, Actor: actor}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) ReopenNode(ctx context.Context, id, actor string) (*api.StateChangeResponse, error) {
	var resp api.StateChangeResponse
	if err := c.invoke(ctx, api.MethodReopenNode, &api.NodeRequest{ID: id, Actor: actor}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) DeleteNode(ctx context.Context, id, actor string) (*api.DeleteNodeResponse, error) {
	var resp api.DeleteNodeResponse
	if err := c.invoke(ctx, api.MethodDeleteNode, &api.NodeRequest{ID: id, Actor: actor}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Readiness ---

func (c *GRPCClient) Blocking(ctx context.Context, id string) ([]*model.Node, error) {
	var resp api.NodesResponse
	if err := c.invoke(ctx, api.MethodBlocking, &api.NodeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *GRPCClient) BlockedBy(ctx context.Context, id string) ([]*model.Node, error) {
	var resp api.NodesResponse
	if err := c.invoke(ctx, api.MethodBlockedBy, &api.NodeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *GRPCClient) Dependencies(ctx context.Context, id string) (*model.DependencySummary, error) {
	var summary model.DependencySummary
	if err := c.invoke(ctx, api.MethodDependencies, &api.NodeRequest{ID: id}, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// --- Edges ---

func (c *GRPCClient) AddEdge(ctx context.Context, req *api.AddEdgeRequest) (*model.Edge, error) {
	var edge model.Edge
	if err := c.invoke(ctx, api.MethodAddEdge, req, &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (c *GRPCClient) GetEdge(ctx context.Context, from, to string) (*model.Edge, error) {
	var edge model.Edge
	if err := c.invoke(ctx, api.MethodGetEdge, &api.EdgeRequest{From: from, To: to}, &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (c *GRPCClient) RemoveEdge(ctx context.Context, from, to, actor string) (*model.Edge, error) {
	var edge model.Edge
	if err := c.invoke(ctx, api.MethodRemoveEdge, &api.EdgeRequest{From: from, To: to, Actor: actor}, &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (c *GRPCClient) CheckEdge(ctx context.Context, from, to string) (*model.CycleCheck, error) {
	var check model.CycleCheck
	if err := c.invoke(ctx, api.MethodCheckEdge, &api.EdgeRequest{From: from, To: to}, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// --- Graph ---

func (c *GRPCClient) Graph(ctx context.Context, req *api.GraphRequest) (*model.GraphSnapshot, error) {
	var snap model.GraphSnapshot
	if err := c.invoke(ctx, api.MethodGetGraph, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- Health ---

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp api.HealthResponse
	if err := c.invoke(ctx, api.MethodHealth, &api.HealthRequest{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
