package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tvixio/tvix/pkg/blob/bao"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

// ObjectStore is a BlobService backed by an S3-compatible bucket, serving
// the "objectstore+s3://" URL scheme (spec.md §6). Unlike Memory/BoltKV, a
// GET from S3 is itself a network Io operation, so its errors are
// classified into the store.Err* taxonomy for the composer's
// retry/skip-tier logic to act on (spec.md §7).
//
// No S3-client-construction file exists anywhere in the retrieved pack
// (distribution-distribution's s3-aws driver uses aws-sdk-go v1's
// session.NewSession, not the v2 client this module's go.mod carries), so
// the client wiring below follows aws-sdk-go-v2's own documented
// config.LoadDefaultConfig + s3.NewFromConfig pattern rather than a
// pack-grounded one; the object key layout (digest -> key, Prefix) mirrors
// the same bucket-of-content-addressed-objects shape as
// distribution-distribution's driver.
type ObjectStore struct {
	client *s3.Client
	bucket string
	prefix string

	chunker bao.Chunker
}

var _ Service = (*ObjectStore)(nil)

// NewObjectStore builds an ObjectStore against an already-configured S3
// client (see pkg/urlscheme's newS3Client, which assembles it from
// config.LoadDefaultConfig plus any endpoint/region overrides the
// "objectstore+s3://" URL carried).
func NewObjectStore(client *s3.Client, bucket, prefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix, chunker: bao.DefaultChunker()}
}

// SetChunker overrides the physical chunker used by Stat.
func (o *ObjectStore) SetChunker(c bao.Chunker) { o.chunker = c }

func (o *ObjectStore) key(digest castorev1.Digest) string {
	return o.prefix + digest.String()
}

func (o *ObjectStore) Has(ctx context.Context, digest castorev1.Digest) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(digest)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head %s: %v", store.ErrIO, digest, err)
	}
	return true, nil
}

func (o *ObjectStore) getAll(ctx context.Context, digest castorev1.Digest) ([]byte, error) {
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

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", store.ErrIO, digest, err)
	}
	if got := castorev1.BlobDigest(b); got != digest {
		return nil, fmt.Errorf("%s: object content hashes to %s: %w", digest, got, store.ErrIntegrity)
	}
	return b, nil
}

func (o *ObjectStore) Open(ctx context.Context, digest castorev1.Digest) (io.ReadCloser, error) {
	b, err := o.getAll(ctx, digest)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// OpenRange uses an S3 ranged GET so a partial read of a large blob doesn't
// pull the whole object over the network, per spec.md §4.1. Verification
// against the full blob digest is not possible from a byte range alone;
// callers reading a range already trust the digest (they derived start/end
// from a prior verified Stat), matching the same trust boundary the
// physical-chunk digests themselves establish.
func (o *ObjectStore) OpenRange(ctx context.Context, digest castorev1.Digest, start, end int64) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-%d", start, end-1)
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(digest)),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", digest, store.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: ranged get %s: %v", store.ErrIO, digest, err)
	}
	return out.Body, nil
}

type objectStoreWriter struct {
	o      *ObjectStore
	buf    bytes.Buffer
	digest castorev1.Digest
	closed bool
}

func (w *objectStoreWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *objectStoreWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	b := w.buf.Bytes()
	w.digest = castorev1.BlobDigest(b)

	_, err := w.o.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(w.o.bucket),
		Key:    aws.String(w.o.key(w.digest)),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", store.ErrIO, w.digest, err)
	}
	return nil
}

func (w *objectStoreWriter) Digest() castorev1.Digest { return w.digest }

func (o *ObjectStore) OpenWrite(_ context.Context) (Writer, error) {
	return &objectStoreWriter{o: o}, nil
}

func (o *ObjectStore) Stat(ctx context.Context, digest castorev1.Digest, opts StatOptions) (*Stat, error) {
	b, err := o.getAll(ctx, digest)
	if err != nil {
		return nil, err
	}

	bounds := o.chunker.Split(b)
	chunks := make([]PhysicalChunk, 0, len(bounds))
	start := 0
	for _, end := range bounds {
		chunks = append(chunks, PhysicalChunk{
			Digest: castorev1.BlobDigest(b[start:end]),
			Size:   uint64(end - start),
		})
		start = end
	}

	stat := &Stat{BaoShift: opts.BaoShift, Chunks: chunks}
	if opts.SendBao {
		tree, err := bao.Build(b, opts.BaoShift)
		if err != nil {
			return nil, fmt.Errorf("building bao tree: %w", err)
		}
		stat.Tree = tree
	}
	return stat, nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NotFound
	return errors.As(err, &nsk)
}
