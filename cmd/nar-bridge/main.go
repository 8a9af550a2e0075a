// Command nar-bridge exposes a tvix-store gRPC interface as the legacy Nix
// HTTP binary-cache protocol (spec.md §4.8).
//
// Grounded on nar-bridge/cmd/nar_bridge/main.go.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"

	"github.com/tvixio/tvix/pkg/narbridge"
	"github.com/tvixio/tvix/pkg/pathinfo"
	"github.com/tvixio/tvix/pkg/urlscheme"
)

// `help:"Expose a tvix-store gRPC interface as HTTP NAR/NARinfo"`
var cli struct {
	LogLevel        string `enum:"trace,debug,info,warn,error,fatal,panic" help:"The log level to log with" default:"info"`
	ListenAddr      string `name:"listen-addr" help:"The address this service listens on" type:"string" default:"[::]:9000"`
	EnableAccessLog bool   `name:"access-log" help:"Enable access logging" type:"bool" default:"true" negatable:""`
	StoreAddr       string `name:"store-addr" help:"The gRPC address of the tvix-store this bridges to" default:"grpc+http://localhost:8000"`
	Priority        int    `name:"priority" help:"Priority advertised in /nix-cache-info" default:"30"`
}

func main() {
	_ = kong.Parse(&cli)

	logLevel, err := log.ParseLevel(cli.LogLevel)
	if err != nil {
		log.Panic("invalid log level")
		return
	}
	log.SetLevel(logLevel)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		for range c {
			log.Info("received signal, shutting down…")
			os.Exit(1)
		}
	}()

	ctx := context.Background()

	log.Debugf("dialing store at %v", cli.StoreAddr)
	blobSvc, err := urlscheme.OpenBlob(ctx, cli.StoreAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to open blob backend")
	}
	dirSvc, err := urlscheme.OpenDirectory(ctx, cli.StoreAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to open directory backend")
	}
	resolver := pathinfo.NewResolver(blobSvc, dirSvc)
	pathInfoSvc, err := urlscheme.OpenPathInfo(ctx, cli.StoreAddr, resolver)
	if err != nil {
		log.WithError(err).Fatal("failed to open pathinfo backend")
	}

	log.Printf("starting nar-bridge at %v", cli.ListenAddr)
	s := narbridge.New(blobSvc, dirSvc, pathInfoSvc, cli.EnableAccessLog, cli.Priority)

	if err := s.ListenAndServe(cli.ListenAddr); err != nil {
		log.WithError(err).Error("server failed")
		os.Exit(1)
	}
}
