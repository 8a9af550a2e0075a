package pathinfo

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

var pathInfoBucket = []byte("pathinfo")

// BoltKV is an embedded, single-file PathInfoService backing the
// "sled:///" and "redb:///" URL schemes (spec.md §6), keyed by output
// hash and storing each PathInfo's canonical wire encoding.
//
// Grounded the same way as blob.BoltKV / directory.BoltKV: the
// bucket-per-concern bbolt.DB wrapper from
// javanhut-IvaldiVCS/internal/store/kv.go.
type BoltKV struct {
	db       *bbolt.DB
	resolver Resolver
}

var _ Service = (*BoltKV)(nil)

func OpenBoltKV(path string, resolver Resolver) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0o666, nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pathInfoBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating pathinfo bucket: %w", err)
	}
	return &BoltKV{db: db, resolver: resolver}, nil
}

func (k *BoltKV) Close() error { return k.db.Close() }

func (k *BoltKV) Get(_ context.Context, outputHash []byte) (*PathInfo, error) {
	var raw []byte
	err := k.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(pathInfoBucket).Get(outputHash)
		if v == nil {
			return fmt.Errorf("%w", store.ErrNotFound)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return UnmarshalPathInfo(raw)
}

func (k *BoltKV) Put(ctx context.Context, p *PathInfo) (*PathInfo, error) {
	sp, err := p.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrIntegrity, err)
	}

	if k.resolver != nil {
		switch {
		case p.Node.Directory != nil:
			ok, err := k.resolver.HasDirectory(ctx, p.Node.Directory.Digest)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("root directory %s not present in DirectoryService: %w", p.Node.Directory.Digest, store.ErrInvalid)
			}
		case p.Node.File != nil:
			ok, err := k.resolver.HasBlob(ctx, p.Node.File.Digest)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("root blob %s not present in BlobService: %w", p.Node.File.Digest, store.ErrInvalid)
			}
		}
	}

	raw, err := MarshalPathInfo(p)
	if err != nil {
		return nil, fmt.Errorf("encoding pathinfo: %w", err)
	}

	err = k.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pathInfoBucket).Put(sp.Digest, raw)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrIO, err)
	}
	return p, nil
}

func (k *BoltKV) List(_ context.Context) Iter {
	var all []*PathInfo
	err := k.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(pathInfoBucket).ForEach(func(_, v []byte) error {
			p, err := UnmarshalPathInfo(v)
			if err != nil {
				return err
			}
			all = append(all, p)
			return nil
		})
	})

	i := 0
	return func() (*PathInfo, bool, error) {
		if err != nil {
			return nil, false, err
		}
		if i >= len(all) {
			return nil, false, nil
		}
		p := all[i]
		i++
		return p, true, nil
	}
}

// CalculateNAR has no index to serve this from cheaply; callers fall back
// to streaming the NAR themselves and hashing it, per spec.md §4.3.
func (k *BoltKV) CalculateNAR(_ context.Context, _ *castorev1.Node) ([32]byte, uint64, error) {
	return [32]byte{}, 0, fmt.Errorf("%w: BoltKV does not index by node", store.ErrUnimplemented)
}
