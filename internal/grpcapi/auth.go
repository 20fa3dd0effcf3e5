package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// metadataAuthKey is the incoming metadata key carrying a bearer token,
// the gRPC equivalent of an HTTP Authorization header — grounded on the
// "Authorization: Bearer <token>" convention LerianStudio-midaz's
// common/net/http/withJWT.go uses for its own JWT middleware.
const metadataAuthKey = "authorization"

// bearerTokenFromContext extracts a bearer token from ctx's incoming gRPC
// metadata, stripping a leading "Bearer " if present so callers may send
// either the raw token or the full header value.
func bearerTokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(metadataAuthKey)
	if len(values) == 0 {
		return ""
	}
	tok := values[0]
	if rest, ok := strings.CutPrefix(tok, "Bearer "); ok {
		return rest
	}
	return tok
}
