package narbridge

import (
	"fmt"

	mh "github.com/multiformats/go-multihash/core"
	nixhash "github.com/nix-community/go-nix/pkg/hash"
	"github.com/nix-community/go-nix/pkg/nixbase32"
)

// narURLParam matches the nixbase32-sha256 hash segment used by
// /nar/{narhash}.nar[.xz|.zst], grounded on nar-bridge/pkg/http/nar_get.go's
// narUrl pattern. Each compression variant is registered as its own route
// (see nar_get.go) rather than folded into one regex, since chi's route
// param only captures the segment, not an optional literal suffix.
const narURLParam = "{narhash:^([" + nixbase32.Alphabet + "]{52})$}"

// parseNarHashFromURL decodes the nixbase32-sha256 hash chi extracted from
// a /nar/{narhash}.nar URL.
func parseNarHashFromURL(s string) (*nixhash.Hash, error) {
	digest, err := nixbase32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("unable to decode nixbase32 hash: %w", err)
	}
	h, err := nixhash.FromHashTypeAndDigest(mh.SHA2_256, digest)
	if err != nil {
		return nil, fmt.Errorf("unable to construct hash: %w", err)
	}
	return h, nil
}
