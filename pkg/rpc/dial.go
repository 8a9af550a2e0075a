package rpc

import (
	"context"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial connects to a tvix gRPC endpoint. target is either "host:port" (TCP,
// tls selects whether to use transport security) or a filesystem path to a
// unix domain socket (detected the same way pkg/narbridge.ListenAndServe
// picks a listener kind: the presence of "/").
//
// Grounded on nar-bridge/cmd/nar_bridge/main.go's
// grpc.Dial(cli.StoreAddr, grpc.WithTransportCredentials(insecure.NewCredentials())),
// generalized to also dial a unix socket for "grpc+unix://" (spec.md §6).
func Dial(ctx context.Context, target string, tls bool) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if tls {
		creds = credentials.NewTLS(nil)
	} else {
		creds = insecure.NewCredentials()
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if strings.Contains(target, "/") {
		opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", addr)
		}))
	}

	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return conn, nil
}
