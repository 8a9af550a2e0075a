package directory

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

var directoryBucket = []byte("directories")

// BoltKV is an embedded, single-file DirectoryService backing the
// "sled:///" and "redb:///" URL schemes (spec.md §6), storing each
// Directory's canonical wire encoding keyed by its own digest.
//
// Grounded the same way as blob.BoltKV: the bucket-per-concern bbolt.DB
// wrapper from javanhut-IvaldiVCS/internal/store/kv.go, here with a single
// digest-keyed bucket.
type BoltKV struct {
	db *bbolt.DB
}

var _ Service = (*BoltKV)(nil)

func OpenBoltKV(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0o666, nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(directoryBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating directory bucket: %w", err)
	}
	return &BoltKV{db: db}, nil
}

func (k *BoltKV) Close() error { return k.db.Close() }

func (k *BoltKV) Get(_ context.Context, digest castorev1.Digest) (*castorev1.Directory, error) {
	var raw []byte
	err := k.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(directoryBucket).Get(digest[:])
		if v == nil {
			return fmt.Errorf("%s: %w", digest, store.ErrNotFound)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	d, err := castorev1.UnmarshalDirectory(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding: %w: %v", digest, store.ErrIntegrity, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", digest, store.ErrIntegrity, err)
	}
	return d, nil
}

func (k *BoltKV) Put(_ context.Context, d *castorev1.Directory) (castorev1.Digest, error) {
	if err := d.Validate(); err != nil {
		return castorev1.Digest{}, fmt.Errorf("%w: %v", store.ErrIntegrity, err)
	}
	digest, err := d.Digest()
	if err != nil {
		return castorev1.Digest{}, fmt.Errorf("computing digest: %w", err)
	}

	raw, err := castorev1.MarshalDirectory(d)
	if err != nil {
		return castorev1.Digest{}, fmt.Errorf("encoding directory: %w", err)
	}

	err = k.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(directoryBucket)
		if bucket.Get(digest[:]) != nil {
			return nil
		}
		return bucket.Put(digest[:], raw)
	})
	if err != nil {
		return castorev1.Digest{}, fmt.Errorf("%w: %v", store.ErrIO, err)
	}
	return digest, nil
}

// GetRecursive performs the same digest-driven, cycle-free stack walk as
// Memory.GetRecursive, reading each Directory from bbolt as it's
// discovered rather than from an in-process map.
func (k *BoltKV) GetRecursive(ctx context.Context, root castorev1.Digest) Iter {
	stack := []castorev1.Digest{root}
	seen := map[castorev1.Digest]struct{}{}
	var terminalErr error

	return func() (*castorev1.Directory, bool, error) {
		if terminalErr != nil {
			return nil, false, nil
		}
		for len(stack) > 0 {
			digest := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, dup := seen[digest]; dup {
				continue
			}
			seen[digest] = struct{}{}

			d, err := k.Get(ctx, digest)
			if err != nil {
				terminalErr = err
				return nil, false, err
			}
			for i := len(d.Directories) - 1; i >= 0; i-- {
				stack = append(stack, d.Directories[i].Digest)
			}
			return d, true, nil
		}
		return nil, false, nil
	}
}
