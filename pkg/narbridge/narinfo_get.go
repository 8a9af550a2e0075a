package narbridge

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	mh "github.com/multiformats/go-multihash/core"
	nixhash "github.com/nix-community/go-nix/pkg/hash"
	"github.com/nix-community/go-nix/pkg/narinfo"
	"github.com/nix-community/go-nix/pkg/narinfo/signature"
	"github.com/nix-community/go-nix/pkg/nixbase32"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tvixio/tvix/pkg/pathinfo"
	"github.com/tvixio/tvix/pkg/store"
)

// compressionExt maps a Server.Compression setting to the .nar file
// extension and narinfo Compression field value.
func compressionExt(compression string) (ext, field string) {
	switch compression {
	case "xz":
		return ".nar.xz", "xz"
	case "zstd":
		return ".nar.zst", "zstd"
	default:
		return ".nar", "none"
	}
}

func toNarInfo(p *pathinfo.PathInfo, compression string) (*narinfo.NarInfo, error) {
	storePath, err := p.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid pathinfo: %w", err)
	}

	sigs := make([]signature.Signature, 0, len(p.Narinfo.Signatures))
	for _, s := range p.Narinfo.Signatures {
		sigs = append(sigs, signature.Signature{Name: s.Name, Data: s.Data})
	}

	narHash, err := nixhash.FromHashTypeAndDigest(mh.SHA2_256, p.Narinfo.NarSha256[:])
	if err != nil {
		return nil, fmt.Errorf("invalid narsha256: %w", err)
	}

	ext, field := compressionExt(compression)

	return &narinfo.NarInfo{
		StorePath:   storePath.Absolute(),
		URL:         "nar/" + nixbase32.EncodeToString(narHash.Digest()) + ext,
		Compression: field,
		NarHash:     narHash,
		NarSize:     p.Narinfo.NarSize,
		References:  p.Narinfo.ReferenceNames,
		Signatures:  sigs,
		Deriver:     p.Narinfo.Deriver,
	}, nil
}

func registerNarinfoGet(s *Server) {
	pattern := "/{outputhash:^[" + nixbase32.Alphabet + "]{32}}.narinfo"

	handler := func(headOnly bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			ctx := r.Context()

			outputHashStr := chi.URLParamFromCtx(ctx, "outputhash")
			entry := log.WithField("outputhash", outputHashStr)

			outputHash, err := nixbase32.DecodeString(outputHashStr)
			if err != nil {
				entry.WithError(err).Error("unable to decode output hash from url")
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			p, err := s.PathInfo.Get(ctx, outputHash)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) || isNotFoundStatus(err) {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				entry.WithError(err).Warn("unable to look up pathinfo")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			if p.Narinfo == nil {
				entry.Error("pathinfo has no narinfo metadata")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			// Register it so a subsequent /nar/<hash>.nar request can find
			// the root node, even if this process never saw the original
			// upload (e.g. it's being served by a different nar-bridge
			// instance sharing the same backing services).
			narHash, err := nixhash.FromHashTypeAndDigest(mh.SHA2_256, p.Narinfo.NarSha256[:])
			if err == nil {
				s.narDBMu.Lock()
				s.narDB[narHash.SRIString()] = &pendingNar{
					rootNode:   p.Node,
					narSize:    p.Narinfo.NarSize,
					references: p.References,
				}
				s.narDBMu.Unlock()
			}

			if headOnly {
				return
			}

			ni, err := toNarInfo(p, s.Compression)
			if err != nil {
				entry.WithError(err).Error("unable to render narinfo")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			if _, err := io.Copy(w, strings.NewReader(ni.String())); err != nil {
				entry.WithError(err).Error("unable to write narinfo to client")
			}
		}
	}

	s.handler.Get(pattern, handler(false))
	s.handler.Head(pattern, handler(true))
}

func isNotFoundStatus(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}
