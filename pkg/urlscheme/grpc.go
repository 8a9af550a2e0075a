package urlscheme

import (
	"context"
	"fmt"
	"net/url"

	"google.golang.org/grpc"

	"github.com/tvixio/tvix/pkg/rpc"
)

// dialGRPC resolves a "grpc+http://host:port", "grpc+https://host:port" or
// "grpc+unix:///path" URL (spec.md §6) into a live connection.
func dialGRPC(ctx context.Context, u *url.URL) (*grpc.ClientConn, error) {
	var target string
	tls := false
	switch u.Scheme {
	case "grpc+http":
		target = u.Host
	case "grpc+https":
		target, tls = u.Host, true
	case "grpc+unix":
		target = u.Path
	default:
		return nil, fmt.Errorf("unsupported grpc backend scheme %q", u.Scheme)
	}
	return rpc.Dial(ctx, target, tls)
}
