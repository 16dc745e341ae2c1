// Package repo implements the top-level Repository API (SPEC_FULL.md
// §6 component table): the working-copy surface — init, add, remove,
// restore, status, commit, branch, checkout, merge, push, pull, log —
// wiring every lower component (C1-C12) the way the teacher's
// pkg/store.Store bundles pkg/cas+pkg/tree+pkg/branch behind one
// user-facing type with a single NewStore(dataDir) constructor.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/siltdata/silt/internal/config"
	"github.com/siltdata/silt/pkg/chunker"
	"github.com/siltdata/silt/pkg/commit"
	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merge"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/refs"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/staging"
	"github.com/siltdata/silt/pkg/transfer"
	"github.com/siltdata/silt/pkg/versionstore"
	"github.com/siltdata/silt/pkg/workspace"
)

// HiddenDirName is the repository metadata directory created under a
// working copy's root by Init, holding every durable store plus the
// config byte (internal/config) recording the fan-out/chunking
// parameters every peer must agree on.
const HiddenDirName = ".silt"

// Repository bundles every component a working copy's operations
// touch: the four C1-C6 durable stores, the C7 Merkle builder/
// traverser/differ, the C10 commit pipeline, the C11 merger, the C9
// workspace manager, and a C12 LocalServer facade for push/pull.
type Repository struct {
	root   string // working copy root
	hidden string // root/.silt
	cfg    config.Config
	log    *zap.Logger

	blobs   versionstore.Store
	objects *objectdb.DB
	commits *commitlog.Log
	refs    *refs.Store
	staging *staging.Area

	builder   *merkle.Builder
	traverser *merkle.Traverser
	differ    *merkle.Differ

	pipeline   *commit.Pipeline
	merger     *merge.Merger
	workspaces *workspace.Manager
	server     *transfer.LocalServer
}

// Init creates a new repository rooted at root: the hidden directory,
// its default config, and every durable store, with HEAD left attached
// to "main" (unresolved until the first commit). logger may be nil.
func Init(root string, logger *zap.Logger) (*Repository, error) {
	hidden := filepath.Join(root, HiddenDirName)
	if _, err := os.Stat(hidden); err == nil {
		return nil, fmt.Errorf("%w: repository already initialized at %s", silterrors.ErrAlreadyExists, root)
	}
	if err := os.MkdirAll(hidden, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", silterrors.ErrIO, hidden, err)
	}

	cfg := config.Default()
	if err := config.Save(hidden, cfg); err != nil {
		return nil, err
	}
	return open(root, hidden, cfg, logger)
}

// Open opens an existing repository rooted at root.
func Open(root string, logger *zap.Logger) (*Repository, error) {
	hidden := filepath.Join(root, HiddenDirName)
	if _, err := os.Stat(hidden); err != nil {
		return nil, fmt.Errorf("%w: no repository at %s", silterrors.ErrNotFound, root)
	}
	cfg, err := config.Load(hidden)
	if err != nil {
		return nil, err
	}
	return open(root, hidden, cfg, logger)
}

func open(root, hidden string, cfg config.Config, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chunk := chunker.NewBuzhashChunker(cfg.ChunkTargetSize, cfg.ChunkMinSize, cfg.ChunkMaxSize)
	blobs, err := versionstore.NewFileStore(hidden, versionstore.Options{
		Compress:       cfg.CompressBlobs,
		Chunker:        chunk,
		DedupThreshold: cfg.ChunkDedupThreshold,
	})
	if err != nil {
		return nil, err
	}
	objects, err := objectdb.Open(hidden)
	if err != nil {
		blobs.Close()
		return nil, err
	}
	commits, err := commitlog.Open(hidden)
	if err != nil {
		objects.Close()
		blobs.Close()
		return nil, err
	}
	refStore, err := refs.Open(hidden)
	if err != nil {
		commits.Close()
		objects.Close()
		blobs.Close()
		return nil, err
	}
	area, err := staging.Open(filepath.Join(hidden, "staged"))
	if err != nil {
		refStore.Close()
		commits.Close()
		objects.Close()
		blobs.Close()
		return nil, err
	}
	workspaces, err := workspace.NewManager(filepath.Join(hidden, "workspaces"))
	if err != nil {
		area.Close()
		refStore.Close()
		commits.Close()
		objects.Close()
		blobs.Close()
		return nil, err
	}

	builder := merkle.NewBuilder(objects, blobs, cfg.VnodeFanoutBits)
	traverser := merkle.NewTraverser(objects, cfg.VnodeFanoutBits)
	differ := merkle.NewDiffer(objects, cfg.VnodeFanoutBits)
	pipeline := commit.New(builder, traverser, objects, commits, refStore, logger)
	// No content-stats computation ships by default (spec.md §6's
	// history/<id>/cache/ is an optional aggregate, out of scope); this
	// only wires the cache directory so a caller installing a real
	// StatsFunc later via SetStatsHook writes to the right place.
	pipeline.SetStatsHook(filepath.Join(hidden, "history"), nil)
	merger := merge.New(commits, refStore, differ, traverser, pipeline, blobs)
	server := transfer.NewLocalServer(objects, blobs, commits, refStore)

	return &Repository{
		root:       root,
		hidden:     hidden,
		cfg:        cfg,
		log:        logger,
		blobs:      blobs,
		objects:    objects,
		commits:    commits,
		refs:       refStore,
		staging:    area,
		builder:    builder,
		traverser:  traverser,
		differ:     differ,
		pipeline:   pipeline,
		merger:     merger,
		workspaces: workspaces,
		server:     server,
	}, nil
}

// Close releases every underlying store handle.
func (r *Repository) Close() error {
	var errs []error
	errs = append(errs,
		r.staging.Close(),
		r.refs.Close(),
		r.commits.Close(),
		r.objects.Close(),
		r.blobs.Close(),
	)
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Root returns the working copy's root directory.
func (r *Repository) Root() string { return r.root }

// Objects, Traverser, Server expose the underlying components other
// layers (internal/httpapi, cmd/*) wire directly rather than
// duplicating: the HTTP resources serve tree/blob reads straight off
// these, and a remote peer is pushed to/pulled from via Server.
func (r *Repository) Objects() *objectdb.DB          { return r.objects }
func (r *Repository) Traverser() *merkle.Traverser   { return r.traverser }
func (r *Repository) Server() *transfer.LocalServer  { return r.server }
func (r *Repository) Workspaces() *workspace.Manager { return r.workspaces }

// currentBranch returns HEAD's attached branch name, failing if HEAD
// is currently detached — every mutating operation below requires an
// attached HEAD, matching git's "you are not currently on a branch"
// restriction on commit/merge/push while detached.
func (r *Repository) currentBranch() (string, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return "", err
	}
	if head.Kind != refs.KindBranch {
		return "", fmt.Errorf("%w: HEAD is detached; create a branch before committing", silterrors.ErrInvalid)
	}
	return head.Branch, nil
}

// headCommit resolves HEAD to its current commit id, or hash.Zero for
// a brand-new repository with no commits yet.
func (r *Repository) headCommit() (hash.Hash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return hash.Zero, err
	}
	return head.Commit, nil
}

// path joins a repo-relative, slash-separated path onto the working
// copy root for filesystem access.
func (r *Repository) path(relPath string) string {
	return filepath.Join(r.root, filepath.FromSlash(relPath))
}

// content implements commit.ContentProvider by reading path's current
// bytes from the working copy.
func (r *Repository) content(relPath string) ([]byte, error) {
	data, err := os.ReadFile(r.path(relPath))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", silterrors.ErrIO, relPath, err)
	}
	return data, nil
}

// Commit snapshots the staging area into a new commit on HEAD's
// branch, parented on the branch's current tip (or no parent for the
// repository's first commit on that branch). The Pipeline's own
// SetBranch CAS (expectedPrevious = the lone parent, or hash.Zero for
// a root commit) both advances an existing branch and creates a brand
// new one, so no separate branch-exists branch is needed here.
func (r *Repository) Commit(ctx context.Context, meta commit.Meta) (hash.Hash, error) {
	branch, err := r.currentBranch()
	if err != nil {
		return hash.Zero, err
	}
	tip, err := r.headCommit()
	if err != nil {
		return hash.Zero, err
	}

	var parents []hash.Hash
	if !tip.IsZero() {
		parents = []hash.Hash{tip}
	}

	id, err := r.pipeline.Commit(ctx, r.staging, r.content, meta, branch, parents)
	if err != nil {
		return hash.Zero, err
	}
	// HEAD may still be the unattached default (no record yet, or the
	// repository's very first commit); now that branch definitely
	// exists, (re)attach HEAD to it.
	if err := r.refs.SetHeadToBranch(branch); err != nil {
		return hash.Zero, err
	}
	return id, nil
}

// Branch creates a new branch pointing at HEAD's current commit.
func (r *Repository) Branch(name string) error {
	tip, err := r.headCommit()
	if err != nil {
		return err
	}
	return r.refs.CreateBranch(name, tip)
}

// Checkout switches HEAD to branch (attached) and materializes its
// tree into the working copy, overwriting tracked files and removing
// any file tracked by the current tree that the target tree drops.
// Untracked working-copy files are left untouched; callers that want
// a clean checkout should Restore first.
func (r *Repository) Checkout(branch string) error {
	tip, err := r.refs.GetBranch(branch)
	if err != nil {
		return err
	}
	return r.checkoutTo(tip, func() error { return r.refs.SetHeadToBranch(branch) })
}

// CheckoutDetached switches HEAD directly to commitID, with no branch
// attached.
func (r *Repository) CheckoutDetached(commitID hash.Hash) error {
	return r.checkoutTo(commitID, func() error { return r.refs.SetHeadToCommit(commitID) })
}

// checkoutTo removes files the current HEAD tree tracks that target
// drops, materializes target's tree, then moves HEAD via setHead and
// clears the staging area.
func (r *Repository) checkoutTo(target hash.Hash, setHead func() error) error {
	previous, err := r.headCommit()
	if err != nil {
		return err
	}
	if !previous.IsZero() {
		prevCommit, err := r.commits.Get(previous)
		if err != nil {
			return err
		}
		targetCommit, err := r.commits.Get(target)
		if err != nil {
			return err
		}
		diff, err := r.differ.Diff(prevCommit.RootHash, targetCommit.RootHash)
		if err != nil {
			return err
		}
		for _, e := range diff.Removed {
			if err := os.Remove(r.path(e.Path)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: removing stale %s: %v", silterrors.ErrIO, e.Path, err)
			}
		}
	}

	if err := r.materialize(target); err != nil {
		return err
	}
	if err := setHead(); err != nil {
		return err
	}
	return r.staging.Clear()
}

// materialize writes every file under commitID's tree into the
// working copy, creating ancestor directories as needed.
func (r *Repository) materialize(commitID hash.Hash) error {
	c, err := r.commits.Get(commitID)
	if err != nil {
		return err
	}
	return r.traverser.Walk(c.RootHash, func(e merkle.Entry) error {
		data, err := r.blobs.Get(e.File.Hash)
		if err != nil {
			return fmt.Errorf("reading blob for %s: %w", e.Path, err)
		}
		dest := r.path(e.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("%w: %v", silterrors.ErrIO, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("%w: writing %s: %v", silterrors.ErrIO, e.Path, err)
		}
		mtime := time.Unix(e.File.LastModifiedSeconds, int64(e.File.LastModifiedNanoseconds))
		_ = os.Chtimes(dest, mtime, mtime)
		return nil
	})
}

// Merge merges head into HEAD's current branch.
func (r *Repository) Merge(ctx context.Context, head string) (*merge.Result, error) {
	base, err := r.currentBranch()
	if err != nil {
		return nil, err
	}
	return r.merger.Merge(ctx, base, head)
}

// Push pushes HEAD's current commit on its branch to remote.
func (r *Repository) Push(ctx context.Context, remote transfer.Server) error {
	branch, err := r.currentBranch()
	if err != nil {
		return err
	}
	tip, err := r.headCommit()
	if err != nil {
		return err
	}
	if tip.IsZero() {
		return fmt.Errorf("%w: nothing to push, %s has no commits", silterrors.ErrInvalid, branch)
	}
	return transfer.Push(ctx, r.server, remote, branch, tip)
}

// Pull fetches branch from remote and checks it out locally.
func (r *Repository) Pull(ctx context.Context, remote transfer.Server, branch string) (hash.Hash, error) {
	tip, err := transfer.Pull(ctx, remote, r.server, branch)
	if err != nil {
		return hash.Zero, err
	}
	if err := r.Checkout(branch); err != nil {
		return hash.Zero, err
	}
	return tip, nil
}

// Log returns HEAD's commit history, most recent first (BFS order
// from commitlog.Log.History, which already visits a commit before
// its parents). Fails with ErrShallowRequired on a shallow clone,
// since a shallow clone's commit log is deliberately incomplete.
func (r *Repository) Log(ctx context.Context) ([]commitlog.Commit, error) {
	if r.IsShallow() {
		return nil, fmt.Errorf("%w: full history is not available in a shallow clone", silterrors.ErrShallowRequired)
	}
	tip, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	if tip.IsZero() {
		return nil, nil
	}
	return r.commits.History(tip)
}

// Between returns every commit reachable from head but not from base.
// Fails with ErrShallowRequired on a shallow clone, for the same
// reason as Log.
func (r *Repository) Between(ctx context.Context, base, head hash.Hash) ([]commitlog.Commit, error) {
	if r.IsShallow() {
		return nil, fmt.Errorf("%w: full history is not available in a shallow clone", silterrors.ErrShallowRequired)
	}
	return r.commits.Between(base, head)
}

// shallowMarkerName is spec.md §6's SHALLOW presence marker: an empty
// file at the repository root signalling a clone that only fetched
// the tip commit's tree, not its ancestry.
const shallowMarkerName = "SHALLOW"

// IsShallow reports whether this repository is a shallow clone.
func (r *Repository) IsShallow() bool {
	_, err := os.Stat(filepath.Join(r.hidden, shallowMarkerName))
	return err == nil
}

// MarkShallow writes the SHALLOW presence marker, for a clone
// operation that intentionally fetched only the tip commit.
func (r *Repository) MarkShallow() error {
	return os.WriteFile(filepath.Join(r.hidden, shallowMarkerName), nil, 0o644)
}
