package narbridge

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/tvixio/tvix/pkg/archive"
)

// decompressingReader wraps r with the decompressor matching encoding. The
// PUT routes pass the encoding their extension implies: "" for
// /nar/<hash>.nar, "xz" for .nar.xz and "zstd" for .nar.zst; a request's
// Content-Encoding header is not consulted.
func decompressingReader(r io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "", "none", "identity":
		return r, nil
	case "xz":
		return xz.NewReader(r)
	case "zstd", "zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case "gzip":
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

func registerNarPut(s *Server) {
	handler := func(encoding string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			ctx := r.Context()

			narHashFromURL, err := parseNarHashFromURL(chi.URLParamFromCtx(ctx, "narhash"))
			if err != nil {
				log.WithError(err).WithField("url", r.URL).Error("unable to decode nar hash from url")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			entry := log.WithField("narhash_url", narHashFromURL.SRIString())

			body, err := decompressingReader(bufio.NewReaderSize(r.Body, 1024*1024), encoding)
			if err != nil {
				entry.WithError(err).Error("unable to set up decompressor")
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			res, err := archive.Import(ctx, body, s.Blob, s.Directory, nil)
			if err != nil {
				entry.WithError(err).Error("error during NAR import")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(fmt.Sprintf("error during NAR import: %v", err)))
				return
			}

			if !bytes.Equal(narHashFromURL.Digest(), res.NarSha256[:]) {
				entry.WithFields(log.Fields{
					"narhash_received_sha256": fmt.Sprintf("%x", res.NarSha256),
					"narsize":                 res.NarSize,
				}).Error("received bytes don't match narhash from URL")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("received bytes don't match narHash specified in URL"))
				return
			}

			// Stash what we learned so a subsequent .narinfo PUT (which
			// only carries the name and signatures) can be completed into
			// a full PathInfo.
			s.narDBMu.Lock()
			s.narDB[narHashFromURL.SRIString()] = &pendingNar{
				rootNode:   res.Root,
				narSize:    res.NarSize,
				references: res.References,
			}
			s.narDBMu.Unlock()

			w.WriteHeader(http.StatusOK)
		}
	}

	s.handler.Put("/nar/"+narURLParam+".nar", handler(""))
	s.handler.Put("/nar/"+narURLParam+".nar.xz", handler("xz"))
	s.handler.Put("/nar/"+narURLParam+".nar.zst", handler("zstd"))
}
