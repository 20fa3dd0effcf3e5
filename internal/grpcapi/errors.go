package grpcapi

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/strata/internal/apierr"
)

// toStatus maps a closed apierr.Kind to its gRPC wire equivalent, the one
// place spec §7's "Propagation: ... the transport maps the error kind to
// its wire equivalent" happens — nothing below this package ever imports
// google.golang.org/grpc/codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch apierr.KindOf(err) {
	case apierr.KindNotFound:
		code = codes.NotFound
	case apierr.KindInvalidArgument:
		code = codes.InvalidArgument
	case apierr.KindUnauthenticated:
		code = codes.Unauthenticated
	case apierr.KindPermissionDenied:
		code = codes.PermissionDenied
	case apierr.KindConflict:
		code = codes.AlreadyExists
	case apierr.KindUnavailable:
		code = codes.Unavailable
	case apierr.KindFatal:
		code = codes.Internal
	default:
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}
