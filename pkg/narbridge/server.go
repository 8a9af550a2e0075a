// Package narbridge implements the legacy Nix HTTP binary-cache protocol
// (spec.md §4.8): .narinfo/.nar GET and PUT, bridging callers that only
// speak the old binary-cache wire format to the castore/PathInfo services.
//
// Grounded on nar-bridge/pkg/server/*.go and nar-bridge/pkg/http/*.go.
package narbridge

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/tvixio/tvix/pkg/blob"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/directory"
	"github.com/tvixio/tvix/pkg/pathinfo"
)

// pendingNar is what we know about an uploaded NAR before its .narinfo
// arrives: the root node (unnamed — the store-path basename only shows up
// in the .narinfo) and its size, keyed by the NAR's sha256 in SRI form.
//
// Grounded on nar-bridge/pkg/server/server.go's narHashToPathInfo map,
// simplified to the fields this module's importer already computes instead
// of a half-built storev1pb.PathInfo.
type pendingNar struct {
	rootNode   *castorev1.Node
	narSize    uint64
	references [][]byte
}

// Server is a chi-routed HTTP binary cache, backed directly by this
// module's BlobService/DirectoryService/PathInfoService (local instances or
// composed tiers, see pkg/rpc for remote ones).
type Server struct {
	srv     *http.Server
	handler chi.Router

	Blob      blob.Service
	Directory directory.Service
	PathInfo  pathinfo.Service

	// Priority is advertised in /nix-cache-info; lower values are
	// preferred by Nix when multiple substituters are configured.
	Priority int

	// Compression selects how .nar bodies are served: "none" (default),
	// "xz" or "zstd". The .narinfo URL field and file extension follow
	// suit.
	Compression string

	narDBMu sync.Mutex
	narDB   map[string]*pendingNar
}

// New builds a Server wired to the given services and registers its
// routes. enableAccessLog turns on chi's request logger (grounded on
// nar-bridge's use of chi/middleware.Logger).
func New(blobSvc blob.Service, dirSvc directory.Service, pathInfoSvc pathinfo.Service, enableAccessLog bool, priority int) *Server {
	r := chi.NewRouter()
	if enableAccessLog {
		r.Use(middleware.Logger)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("nar-bridge")); err != nil {
			log.WithError(err).Error("unable to write response")
		}
	})

	r.Get("/nix-cache-info", func(w http.ResponseWriter, r *http.Request) {
		body := fmt.Sprintf("StoreDir: /nix/store\nWantMassQuery: 1\nPriority: %d\n", priority)
		if _, err := w.Write([]byte(body)); err != nil {
			log.WithError(err).Error("unable to write response")
		}
	})

	s := &Server{
		handler:     r,
		Blob:        blobSvc,
		Directory:   dirSvc,
		PathInfo:    pathInfoSvc,
		Priority:    priority,
		Compression: "none",
		narDB:       make(map[string]*pendingNar),
	}

	registerNarPut(s)
	registerNarGet(s)
	registerNarinfoPut(s)
	registerNarinfoGet(s)

	return s
}

// ListenAndServe starts the webserver and blocks until it's closed or
// shut down, after which it returns http.ErrServerClosed. addr containing
// a "/" is treated as a unix domain socket path.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  500 * time.Second,
		WriteTimeout: 500 * time.Second,
		IdleTimeout:  500 * time.Second,
	}

	var listener net.Listener
	var err error
	if strings.Contains(addr, "/") {
		listener, err = net.Listen("unix", addr)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("unable to listen on %v: %w", addr, err)
	}

	return s.srv.Serve(listener)
}

// ServeHTTP lets Server be mounted directly into another router, or
// exercised in tests without opening a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
