// Package httpapi routes the HTTP resources of spec.md §6 with
// go-chi/chi, the way the teacher's own server layer (cmd/store-server,
// grounded on arx-os/arxos and erigontech/erigon's chi usage) exposes a
// local store over HTTP. It has two faces: a resource API
// (commits/branches/tree/file/workspaces/merge) consumed by clients,
// and a sync API (internal/httpapi/sync.go) implementing
// pkg/transfer.Server for peer-to-peer push/pull.
package httpapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/siltdata/silt/pkg/repo"
	"github.com/siltdata/silt/pkg/silterrors"
)

// Registry opens and caches repositories rooted under a single
// SYNC_DIR, keyed by "<namespace>/<repo>" (spec.md §6's `<ns>/<repo>`
// path segments) — the multi-tenant layer a bare chi.Router handler
// needs but a single pkg/repo.Repository does not.
type Registry struct {
	root string
	log  *zap.Logger

	mu    sync.Mutex
	repos map[string]*repo.Repository
}

// NewRegistry opens a Registry rooted at syncDir. logger may be nil.
func NewRegistry(syncDir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{root: syncDir, log: logger, repos: map[string]*repo.Repository{}}
}

func key(ns, name string) string { return ns + "/" + name }

// Open returns the repository at <ns>/<repo>, opening it on first use
// and caching the handle for subsequent calls. It does NOT create a
// missing repository — Create does.
func (g *Registry) Open(ns, name string) (*repo.Repository, error) {
	if err := validateSegment(ns); err != nil {
		return nil, err
	}
	if err := validateSegment(name); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(ns, name)
	if r, ok := g.repos[k]; ok {
		return r, nil
	}

	dir := filepath.Join(g.root, ns, name)
	if _, err := os.Stat(filepath.Join(dir, repo.HiddenDirName)); err != nil {
		return nil, fmt.Errorf("%w: repository %s", silterrors.ErrNotFound, k)
	}
	r, err := repo.Open(dir, g.log.With(zap.String("repo", k)))
	if err != nil {
		return nil, err
	}
	g.repos[k] = r
	return r, nil
}

// Create initializes a brand-new repository at <ns>/<repo>.
func (g *Registry) Create(ns, name string) (*repo.Repository, error) {
	if err := validateSegment(ns); err != nil {
		return nil, err
	}
	if err := validateSegment(name); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(ns, name)
	if r, ok := g.repos[k]; ok {
		return r, nil
	}

	dir := filepath.Join(g.root, ns, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", silterrors.ErrIO, dir, err)
	}
	r, err := repo.Init(dir, g.log.With(zap.String("repo", k)))
	if err != nil {
		return nil, err
	}
	g.repos[k] = r
	return r, nil
}

// Close releases every cached repository handle.
func (g *Registry) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for _, r := range g.repos {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// validateSegment guards against path traversal through a namespace
// or repo name lifted directly from a URL path segment.
func validateSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("%w: invalid path segment %q", silterrors.ErrInvalid, s)
	}
	return nil
}
