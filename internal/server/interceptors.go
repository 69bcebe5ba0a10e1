package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/depgraph/internal/api"
)

// rpcLevel maps a status code to the level its completion is logged at.
// Client-side rejections (cycles, missing nodes, bad input) are routine.
func rpcLevel(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelDebug
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggingInterceptor logs one line per unary call.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	attrs := []slog.Attr{
		slog.String("rpc", path.Base(info.FullMethod)),
		slog.String("code", code.String()),
		slog.Duration("took", time.Since(start)),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, slog.String("peer", p.Addr.String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", status.Convert(err).Message()))
	}
	slog.LogAttrs(ctx, rpcLevel(code), "grpc call", attrs...)
	return resp, err
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		slog.ErrorContext(ctx, "grpc handler panicked",
			"rpc", info.FullMethod,
			"panic", r,
			"stack", string(debug.Stack()),
		)
		resp, err = nil, status.Error(codes.Internal, "internal server error")
	}()
	return handler(ctx, req)
}

// checkBearer returns why header fails to carry token, or "" if it does.
func checkBearer(header, token string) string {
	scheme, provided, found := strings.Cut(header, " ")
	switch {
	case header == "":
		return "missing authorization header"
	case !found || scheme != "Bearer":
		return "invalid authorization scheme"
	case subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1:
		return "invalid token"
	}
	return ""
}

// AuthInterceptor requires a bearer token in the "authorization" metadata.
// An empty token disables the check. Health probes are always allowed.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	open := map[string]bool{
		api.FullMethod(api.MethodHealth):      true,
		healthpb.Health_Check_FullMethodName: true,
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || open[info.FullMethod] {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		header := ""
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		if msg := checkBearer(header, token); msg != "" {
			return nil, status.Error(codes.Unauthenticated, msg)
		}
		return handler(ctx, req)
	}
}

// AuthMiddleware is the HTTP counterpart of AuthInterceptor. Only
// GET /v1/health is reachable without a token.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := r.Method == http.MethodGet && r.URL.Path == "/v1/health"
		if !public {
			if msg := checkBearer(r.Header.Get("Authorization"), token); msg != "" {
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
