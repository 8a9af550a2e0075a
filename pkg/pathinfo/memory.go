package pathinfo

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

// Memory is an ephemeral in-process PathInfoService, backing the
// "memory://" URL scheme. Adapted from the same mutex-guarded map pattern
// used throughout pkg/blob and pkg/directory.
type Memory struct {
	mu       sync.RWMutex
	byHash   map[string]*PathInfo // key: string(outputHash)
	resolver Resolver
}

var _ Service = (*Memory)(nil)

func NewMemory(resolver Resolver) *Memory {
	return &Memory{byHash: make(map[string]*PathInfo), resolver: resolver}
}

func (m *Memory) Get(_ context.Context, outputHash []byte) (*PathInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byHash[string(outputHash)]
	if !ok {
		return nil, fmt.Errorf("%w", store.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) Put(ctx context.Context, p *PathInfo) (*PathInfo, error) {
	sp, err := p.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrIntegrity, err)
	}

	if m.resolver != nil {
		switch {
		case p.Node.Directory != nil:
			ok, err := m.resolver.HasDirectory(ctx, p.Node.Directory.Digest)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("root directory %s not present in DirectoryService: %w", p.Node.Directory.Digest, store.ErrInvalid)
			}
		case p.Node.File != nil:
			ok, err := m.resolver.HasBlob(ctx, p.Node.File.Digest)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("root blob %s not present in BlobService: %w", p.Node.File.Digest, store.ErrInvalid)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[string(sp.Digest)] = p
	return p, nil
}

func (m *Memory) List(_ context.Context) Iter {
	m.mu.RLock()
	all := make([]*PathInfo, 0, len(m.byHash))
	for _, p := range m.byHash {
		all = append(all, p)
	}
	m.mu.RUnlock()

	i := 0
	return func() (*PathInfo, bool, error) {
		if i >= len(all) {
			return nil, false, nil
		}
		p := all[i]
		i++
		return p, true, nil
	}
}

func (m *Memory) CalculateNAR(_ context.Context, node *castorev1.Node) ([32]byte, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.byHash {
		if nodeEqual(p.Node, node) && p.Narinfo != nil {
			return p.Narinfo.NarSha256, p.Narinfo.NarSize, nil
		}
	}
	return [32]byte{}, 0, fmt.Errorf("%w: no cached narinfo for this node", store.ErrUnimplemented)
}

func nodeEqual(a, b *castorev1.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch {
	case a.Directory != nil && b.Directory != nil:
		return bytes.Equal(a.Directory.Name, b.Directory.Name) && a.Directory.Digest == b.Directory.Digest
	case a.File != nil && b.File != nil:
		return bytes.Equal(a.File.Name, b.File.Name) && a.File.Digest == b.File.Digest
	case a.Symlink != nil && b.Symlink != nil:
		return bytes.Equal(a.Symlink.Name, b.Symlink.Name) && bytes.Equal(a.Symlink.Target, b.Symlink.Target)
	default:
		return false
	}
}
