// Package commit implements the Commit Pipeline (spec.md §4.10, C10):
// the sequence that turns a Staging Area snapshot into a durable,
// reachable Commit record. It generalizes the teacher's
// pkg/store.Store.Commit (build tree, create commit, update HEAD,
// persist) to multi-parent commits and an explicit CAS ref advance
// with caller-driven retry on conflict.
package commit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/refs"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/staging"
)

// Meta is author-supplied metadata for a new commit.
type Meta struct {
	Message string
	Author  string
	Email   string
}

// ContentProvider resolves a staged path's current bytes (from the
// working copy, a workspace's scratch files, or an exported tabular
// table) so the pipeline can hash and write its blob. It is never
// called for Removed entries.
type ContentProvider func(path string) ([]byte, error)

// Pipeline wires together the components a commit touches: the
// Merkle builder (tree construction), the Object DB (node persistence
// and the per-commit dir_hashes index), the Commit Log, and the Ref
// Store (branch advancement).
type Pipeline struct {
	builder   *merkle.Builder
	traverser *merkle.Traverser
	objects   *objectdb.DB
	commits   *commitlog.Log
	refStore  *refs.Store
	log       *zap.Logger
	now       func() time.Time

	cacheDir  string
	statsHook StatsFunc
}

// New constructs a Pipeline. logger may be nil, in which case a no-op
// logger is used.
func New(builder *merkle.Builder, traverser *merkle.Traverser, objects *objectdb.DB, commits *commitlog.Log, refStore *refs.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		builder:   builder,
		traverser: traverser,
		objects:   objects,
		commits:   commits,
		refStore:  refStore,
		log:       logger,
		now:       time.Now,
	}
}

// Builder exposes the underlying Merkle builder so related
// components (pkg/merge) can construct trees without duplicating the
// bottom-up rebuild algorithm.
func (p *Pipeline) Builder() *merkle.Builder { return p.builder }

// Objects exposes the underlying Object DB handle.
func (p *Pipeline) Objects() *objectdb.DB { return p.objects }

// Tag is a deterministic placeholder used to tag FileNodes written by
// a commit with a blame-queryable id before the real commit id (which
// the spec derives from the root hash, itself derived from these
// FileNodes) can be known. It is stable across retries of the same
// logical commit, so a crash-and-retry still produces identical tree
// content. Exported so pkg/merge can tag the FileNodes it carries
// across from head's tree the same way.
func Tag(parents []hash.Hash, meta Meta, timestamp string) hash.Hash {
	buf := []byte(fmt.Sprintf("%s|%s|%s|%s", meta.Message, meta.Author, meta.Email, timestamp))
	for _, p := range parents {
		buf = append(buf, p.Bytes()...)
	}
	return hash.Sum(buf)
}

// Commit runs the 7-step pipeline of spec.md §4.10 against branch,
// snapshotting area's staged entries into one commit with the given
// meta and (usually one) explicit parent ids. Passing no parents
// produces a root commit. content resolves each non-removed staged
// path's bytes.
//
// Between persisting the new nodes/commit record and advancing the
// branch ref, the new commit is addressable (its hash resolves) but
// unreachable from any ref — invisible to readers until step 6
// succeeds.
func (p *Pipeline) Commit(ctx context.Context, area *staging.Area, content ContentProvider, meta Meta, branch string, parents []hash.Hash) (hash.Hash, error) {
	if ctx.Err() != nil {
		return hash.Zero, ctx.Err()
	}

	// Step 1: snapshot the staging area into an immutable batch.
	staged := area.List()
	p.log.Info("commit: staging snapshot", zap.String("branch", branch), zap.Int("entries", len(staged)))
	if len(staged) == 0 {
		return hash.Zero, fmt.Errorf("%w: nothing staged for commit", silterrors.ErrInvalid)
	}

	priorRoot, sortedParents, err := p.resolveParents(parents)
	if err != nil {
		return hash.Zero, err
	}

	timestamp := p.now().UTC().Format(time.RFC3339)
	tag := Tag(sortedParents, meta, timestamp)

	files := make([]merkle.StagedFile, 0, len(staged))
	for _, e := range staged {
		f := merkle.StagedFile{
			Path:       e.Path,
			Status:     e.Status,
			ModTime:    time.Unix(e.ModSeconds, int64(e.ModNanos)),
			DataType:   e.DataType,
			MimeType:   e.MimeType,
			Extension:  e.Extension,
			SchemaHash: hash.Zero,
		}
		if e.Status != merkle.Removed {
			data, err := content(e.Path)
			if err != nil {
				return hash.Zero, fmt.Errorf("resolving content for %s: %w", e.Path, err)
			}
			f.Content = data
		}
		files = append(files, f)
	}

	// Step 2: invoke the Merkle builder against the prior root.
	rootHash, err := p.builder.Build(files, priorRoot, tag)
	if err != nil {
		return hash.Zero, fmt.Errorf("building tree: %w", err)
	}
	p.log.Info("commit: tree built", zap.String("root", rootHash.String()))

	// Step 3 (blobs/nodes) already happened inside Build, which
	// persists files -> vnodes -> dirs -> schemas as it recurses
	// bottom-up; each write there is idempotent (objectdb.Put* is a
	// content-addressed upsert), so a crash-and-retry here is safe.

	expectedPrevious := hash.Zero
	if len(parents) > 0 {
		expectedPrevious = parents[0]
	}
	id, err := p.persistCommit(rootHash, meta, timestamp, sortedParents, branch, expectedPrevious)
	if err != nil {
		return hash.Zero, err
	}

	// Step 7: clear the staging area.
	if err := area.Clear(); err != nil {
		return hash.Zero, fmt.Errorf("clearing staging area: %w", err)
	}

	return id, nil
}

// CommitRoot persists a commit whose tree has already been built
// elsewhere (pkg/merge builds merged trees directly against the
// Merkle builder) — steps 4-6 of spec.md §4.10, with no staging area
// to snapshot or clear. expectedPrevious is branch's current tip
// (hash.Zero for a brand-new branch); it need not be one of parents,
// since a merge commit's two parents needn't sort to branch's own tip
// first.
func (p *Pipeline) CommitRoot(ctx context.Context, rootHash hash.Hash, meta Meta, branch string, parents []hash.Hash, expectedPrevious hash.Hash) (hash.Hash, error) {
	if ctx.Err() != nil {
		return hash.Zero, ctx.Err()
	}
	_, sortedParents, err := p.resolveParents(parents)
	if err != nil {
		return hash.Zero, err
	}
	timestamp := p.now().UTC().Format(time.RFC3339)
	return p.persistCommit(rootHash, meta, timestamp, sortedParents, branch, expectedPrevious)
}

func (p *Pipeline) resolveParents(parents []hash.Hash) (priorRoot hash.Hash, sorted []hash.Hash, err error) {
	if len(parents) > 0 {
		parentCommit, err := p.commits.Get(parents[0])
		if err != nil {
			return hash.Zero, nil, err
		}
		priorRoot = parentCommit.RootHash
	}
	sorted = append([]hash.Hash(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	return priorRoot, sorted, nil
}

// persistCommit implements steps 4-6 of spec.md §4.10: construct and
// persist the Commit record, write the per-commit dir_hashes index,
// then atomically advance branch from expectedPrevious (hash.Zero for a
// branch that does not exist yet) to the new commit.
func (p *Pipeline) persistCommit(rootHash hash.Hash, meta Meta, timestamp string, sortedParents []hash.Hash, branch string, expectedPrevious hash.Hash) (hash.Hash, error) {
	// Step 4: construct + persist the Commit record.
	id := commitlog.HashCommit(sortedParents, meta.Message, meta.Author, meta.Email, timestamp, rootHash)
	c := commitlog.Commit{
		ID:        id,
		ParentIDs: sortedParents,
		Message:   meta.Message,
		Author:    meta.Author,
		Email:     meta.Email,
		Timestamp: timestamp,
		RootHash:  rootHash,
	}
	if err := p.commits.Put(c); err != nil {
		return hash.Zero, fmt.Errorf("persisting commit record: %w", err)
	}
	p.log.Info("commit: record persisted", zap.String("commit", id.String()))

	// Step 5: write the per-commit dir_hashes auxiliary index.
	dirHashes := map[string]hash.Hash{}
	if err := p.traverser.WalkDirs(rootHash, func(path string, h hash.Hash) error {
		dirHashes[path] = h
		return nil
	}); err != nil {
		return hash.Zero, fmt.Errorf("indexing dir hashes: %w", err)
	}
	if err := p.objects.SetDirHashes(id, dirHashes); err != nil {
		return hash.Zero, fmt.Errorf("persisting dir hashes: %w", err)
	}

	// Step 6: atomically advance the branch ref from its prior tip.
	if err := p.refStore.SetBranch(branch, id, expectedPrevious); err != nil {
		return hash.Zero, err
	}
	p.log.Info("commit: branch advanced", zap.String("branch", branch), zap.String("commit", id.String()))

	p.runStatsHook(c)

	return id, nil
}
