// ABOUTME: gRPC stream interceptor that reads a bearer token from metadata
// ABOUTME: Anonymous streams pass through; a bad token is rejected outright

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string) {
	attrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

// StreamInterceptor attaches an Identity to streams that present a valid
// "authorization: Bearer <jwt>" header. Streams without the header continue
// anonymously; streams with an invalid one fail with Unauthenticated.
func StreamInterceptor(verifier TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		md, _ := metadata.FromIncomingContext(ctx)
		headers := md.Get("authorization")
		if len(headers) == 0 {
			return handler(srv, ss)
		}

		token, errMsg := extractBearerToken(headers[0])
		if errMsg != "" {
			logAuthFailure(logger, ctx, errMsg)
			return status.Error(codes.Unauthenticated, errMsg)
		}
		subject, err := verifier.Verify(token)
		if err != nil {
			logAuthFailure(logger, ctx, err.Error())
			return status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithIdentity(ctx, &Identity{Subject: subject}),
		})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
