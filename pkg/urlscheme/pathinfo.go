package urlscheme

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tvixio/tvix/pkg/pathinfo"
	"github.com/tvixio/tvix/pkg/rpc"
)

// OpenPathInfo constructs a pathinfo.Service from one of spec.md §6's URL
// schemes. resolver is forwarded to every in-process tier (memory, bolt)
// that validates a root node against castore on Put; it is unused by grpc+
// tiers, which delegate that validation to the remote end.
func OpenPathInfo(ctx context.Context, raw string, resolver pathinfo.Resolver) (pathinfo.Service, error) {
	if fast, slow, ok, err := splitCache(raw); err != nil {
		return nil, err
	} else if ok {
		fastSvc, err := OpenPathInfo(ctx, fast, resolver)
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		slowSvc, err := OpenPathInfo(ctx, slow, resolver)
		if err != nil {
			return nil, fmt.Errorf("next tier: %w", err)
		}
		return pathinfo.NewComposer(
			pathinfo.Tier{Service: fastSvc},
			pathinfo.Tier{Service: slowSvc},
		)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing pathinfo backend URL %q: %w", raw, err)
	}

	switch {
	case u.Scheme == "memory":
		return pathinfo.NewMemory(resolver), nil

	case u.Scheme == "sled" || u.Scheme == "redb":
		return pathinfo.OpenBoltKV(u.Path, resolver)

	case strings.HasPrefix(u.Scheme, "grpc+"):
		conn, err := dialGRPC(ctx, u)
		if err != nil {
			return nil, err
		}
		return rpc.NewPathInfoClient(rpc.NewPathInfoServiceClient(conn)), nil

	default:
		return nil, fmt.Errorf("unsupported pathinfo backend scheme %q", u.Scheme)
	}
}
