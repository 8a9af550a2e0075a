package narbridge

import (
	"net/http"
	"path"

	"github.com/nix-community/go-nix/pkg/narinfo"
	"github.com/nix-community/go-nix/pkg/nixbase32"
	"github.com/nix-community/go-nix/pkg/storepath"
	log "github.com/sirupsen/logrus"

	"github.com/tvixio/tvix/pkg/pathinfo"
)

func registerNarinfoPut(s *Server) {
	pattern := "/{outputhash:^[" + nixbase32.Alphabet + "]{32}}.narinfo"

	s.handler.Put(pattern, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		ctx := r.Context()

		ni, err := narinfo.Parse(r.Body)
		if err != nil {
			log.WithError(err).Error("unable to parse narinfo")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("unable to parse narinfo"))
			return
		}

		entry := log.WithFields(log.Fields{
			"narhash":     ni.NarHash.SRIString(),
			"output_path": ni.StorePath,
		})

		s.narDBMu.Lock()
		pending, found := s.narDB[ni.NarHash.SRIString()]
		s.narDBMu.Unlock()
		if !found {
			entry.Error("unable to find referred NAR")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("unable to find referred NAR; PUT the .nar first"))
			return
		}

		if pending.narSize != ni.NarSize {
			entry.Error("narsize mismatch")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("narsize mismatch"))
			return
		}

		// The reference digests were already computed from the archive's
		// content during import; here we only need the textual reference
		// names to round-trip in the PathInfo, validated as parseable
		// store-path basenames (same check PathInfo.Validate does again
		// server-side).
		referenceNames := make([]string, len(ni.References))
		for i, ref := range ni.References {
			if _, err := storepath.FromString(ref); err != nil {
				entry.WithField("reference", ref).WithError(err).Error("unable to parse reference")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("unable to parse reference"))
				return
			}
			referenceNames[i] = ref
		}

		sigs := make([]pathinfo.Signature, 0, len(ni.Signatures))
		for _, sig := range ni.Signatures {
			sigs = append(sigs, pathinfo.Signature{Name: sig.Name, Data: sig.Data})
		}

		rootName := []byte(path.Base(ni.StorePath))
		p := &pathinfo.PathInfo{
			Node:       pending.rootNode.WithName(rootName),
			References: pending.references,
			Narinfo: &pathinfo.NarInfo{
				NarSha256:      sha256Array(ni.NarHash.Digest()),
				NarSize:        ni.NarSize,
				Signatures:     sigs,
				ReferenceNames: referenceNames,
				Deriver:        ni.Deriver,
			},
		}

		stored, err := s.PathInfo.Put(ctx, p)
		if err != nil {
			entry.WithError(err).Error("unable to store pathinfo")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("unable to store pathinfo"))
			return
		}

		entry.WithField("pathinfo", stored).Debug("stored pathinfo")
		w.WriteHeader(http.StatusOK)
	})
}

func sha256Array(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
