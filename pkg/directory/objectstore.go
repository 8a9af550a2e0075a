package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

// ObjectStore is a DirectoryService backed by an S3-compatible bucket,
// serving the "objectstore+s3://" URL scheme for directories (spec.md §6
// lists "blobs/directories" together under this scheme). Each Directory is
// stored under its own digest as the object key, canonically encoded the
// same way blob.ObjectStore stores raw blob bytes.
type ObjectStore struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Service = (*ObjectStore)(nil)

func NewObjectStore(client *s3.Client, bucket, prefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix}
}

func (o *ObjectStore) key(digest castorev1.Digest) string {
	return o.prefix + digest.String()
}

func (o *ObjectStore) Get(ctx context.Context, digest castorev1.Digest) (*castorev1.Directory, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(digest)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", digest, store.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get %s: %v", store.ErrIO, digest, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", store.ErrIO, digest, err)
	}

	d, err := castorev1.UnmarshalDirectory(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding: %w: %v", digest, store.ErrIntegrity, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", digest, store.ErrIntegrity, err)
	}
	got, err := d.Digest()
	if err != nil || got != digest {
		return nil, fmt.Errorf("%s: object content hashes elsewhere: %w", digest, store.ErrIntegrity)
	}
	return d, nil
}

func (o *ObjectStore) Put(ctx context.Context, d *castorev1.Directory) (castorev1.Digest, error) {
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

	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(digest)),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		return castorev1.Digest{}, fmt.Errorf("%w: put %s: %v", store.ErrIO, digest, err)
	}
	return digest, nil
}

func (o *ObjectStore) GetRecursive(ctx context.Context, root castorev1.Digest) Iter {
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

			d, err := o.Get(ctx, digest)
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

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NotFound
	return errors.As(err, &nsk)
}
