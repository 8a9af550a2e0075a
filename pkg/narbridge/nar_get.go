package narbridge

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/tvixio/tvix/pkg/archive"
)

// compressingWriter wraps w so archive.Export's plain NAR bytes come out
// compressed as encoding, matching the extension the client asked for.
func compressingWriter(w io.Writer, encoding string) (io.WriteCloser, error) {
	switch encoding {
	case "", "none":
		return nopWriteCloser{w}, nil
	case "xz":
		return xz.NewWriter(w)
	case "zstd":
		return zstd.NewWriter(w)
	case "gzip":
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", encoding)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// renderNar looks up narHashSRI in the server's pending-nar table and, if
// found, streams the export to w (compressed as encoding). Returns a
// fs.ErrNotExist-wrapping error if the hash is unknown.
func renderNar(ctx context.Context, w io.Writer, s *Server, narHashSRI string, encoding string, headOnly bool) error {
	s.narDBMu.Lock()
	pending, found := s.narDB[narHashSRI]
	s.narDBMu.Unlock()

	if !found {
		return fmt.Errorf("narhash not found: %w", fs.ErrNotExist)
	}
	if headOnly {
		return nil
	}

	cw, err := compressingWriter(w, encoding)
	if err != nil {
		return err
	}

	if err := archive.Export(ctx, cw, pending.rootNode, s.Directory, s.Blob); err != nil {
		_ = cw.Close()
		return fmt.Errorf("unable to export nar: %w", err)
	}
	return cw.Close()
}

func registerNarGet(s *Server) {
	genHandler := func(encoding string, isHead bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			ctx := r.Context()

			narHash, err := parseNarHashFromURL(chi.URLParamFromCtx(ctx, "narhash"))
			if err != nil {
				log.WithError(err).WithField("url", r.URL).Error("unable to decode nar hash from url")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			entry := log.WithField("narhash_url", narHash.SRIString())

			if err := renderNar(ctx, w, s, narHash.SRIString(), encoding, isHead); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					w.WriteHeader(http.StatusNotFound)
				} else {
					entry.WithError(err).Warn("unable to render nar")
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}
	}

	for _, variant := range []struct {
		suffix   string
		encoding string
	}{
		{".nar", ""},
		{".nar.xz", "xz"},
		{".nar.zst", "zstd"},
	} {
		s.handler.Head("/nar/"+narURLParam+variant.suffix, genHandler(variant.encoding, true))
		s.handler.Get("/nar/"+narURLParam+variant.suffix, genHandler(variant.encoding, false))
	}
}
