package urlscheme

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tvixio/tvix/pkg/directory"
	"github.com/tvixio/tvix/pkg/rpc"
)

// OpenDirectory constructs a directory.Service from one of spec.md §6's URL
// schemes.
func OpenDirectory(ctx context.Context, raw string) (directory.Service, error) {
	if fast, slow, ok, err := splitCache(raw); err != nil {
		return nil, err
	} else if ok {
		fastSvc, err := OpenDirectory(ctx, fast)
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		slowSvc, err := OpenDirectory(ctx, slow)
		if err != nil {
			return nil, fmt.Errorf("next tier: %w", err)
		}
		return directory.NewComposer(
			directory.Tier{Service: fastSvc},
			directory.Tier{Service: slowSvc},
		)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing directory backend URL %q: %w", raw, err)
	}

	switch {
	case u.Scheme == "memory":
		return directory.NewMemory(), nil

	case u.Scheme == "sled" || u.Scheme == "redb":
		return directory.OpenBoltKV(u.Path)

	case strings.HasPrefix(u.Scheme, "objectstore+"):
		backend := strings.TrimPrefix(u.Scheme, "objectstore+")
		if backend != "s3" {
			return nil, fmt.Errorf("unsupported objectstore backend %q", backend)
		}
		client, bucket, prefix, err := newS3Client(ctx, u)
		if err != nil {
			return nil, err
		}
		return directory.NewObjectStore(client, bucket, prefix), nil

	case strings.HasPrefix(u.Scheme, "grpc+"):
		conn, err := dialGRPC(ctx, u)
		if err != nil {
			return nil, err
		}
		return rpc.NewDirClient(rpc.NewDirectoryServiceClient(conn)), nil

	default:
		return nil, fmt.Errorf("unsupported directory backend scheme %q", u.Scheme)
	}
}
