// Package merge implements the Merger (spec.md §4.11, C11): combining
// two branch tips via their lowest common ancestor, short-circuiting
// fast-forwards and no-ops, otherwise three-way merging the file trees
// and surfacing conflicts without ever partially applying a merge.
//
// The teacher has no branching/merge concept, so this is built fresh
// in the teacher's idiom (same CAS-retry pattern as pkg/commit, same
// error taxonomy), reusing pkg/merkle.Differ applied pairwise as its
// tree-walk primitive per spec.md §4.11 step 1.
package merge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/siltdata/silt/pkg/commit"
	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/refs"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/versionstore"
)

// Conflict is one path where base and head changed differently.
type Conflict struct {
	Path   string
	Reason string
}

// Result is the outcome of a merge attempt.
type Result struct {
	// FastForward is true when B's ref was simply advanced to H.c with
	// no new commit.
	FastForward bool
	// NoOp is true when B already contains H.c.
	NoOp bool
	// Commit is the new merge commit id, set only on a real three-way
	// merge (FastForward == NoOp == false, len(Conflicts) == 0).
	Commit hash.Hash
	// Conflicts is non-empty exactly when the merge was aborted.
	Conflicts []Conflict
}

// Merger resolves and applies merges between two branches.
type Merger struct {
	commits   *commitlog.Log
	refStore  *refs.Store
	differ    *merkle.Differ
	traverser *merkle.Traverser
	pipeline  *commit.Pipeline
	blobs     versionstore.Store
	now       func() time.Time
}

// New constructs a Merger. blobs is the same Version Store the
// pipeline's Merkle builder writes to — Merge reads existing blob
// bytes from it to feed non-conflicting changes back through the
// builder without re-uploading anything new.
func New(commits *commitlog.Log, refStore *refs.Store, differ *merkle.Differ, traverser *merkle.Traverser, pipeline *commit.Pipeline, blobs versionstore.Store) *Merger {
	return &Merger{commits: commits, refStore: refStore, differ: differ, traverser: traverser, pipeline: pipeline, blobs: blobs, now: time.Now}
}

// ancestorIDs returns the set of commit ids reachable from id
// (inclusive) by walking parent_ids, via commitlog.Log.History.
func (m *Merger) ancestorIDs(id hash.Hash) (map[hash.Hash]commitlog.Commit, error) {
	history, err := m.commits.History(id)
	if err != nil {
		return nil, err
	}
	out := make(map[hash.Hash]commitlog.Commit, len(history))
	for _, c := range history {
		out[c.ID] = c
	}
	return out, nil
}

// lowestCommonAncestor implements spec.md §4.11's LCA rule: reverse-BFS
// over the commit DAG from both tips, intersect, keep only the
// "lowest" (non-dominated) common ancestors, then break ties by
// greatest timestamp.
func (m *Merger) lowestCommonAncestor(baseTip, headTip hash.Hash) (hash.Hash, error) {
	baseAncestors, err := m.ancestorIDs(baseTip)
	if err != nil {
		return hash.Zero, fmt.Errorf("resolving base ancestry: %w", err)
	}
	headAncestors, err := m.ancestorIDs(headTip)
	if err != nil {
		return hash.Zero, fmt.Errorf("resolving head ancestry: %w", err)
	}

	var common []hash.Hash
	for id := range baseAncestors {
		if _, ok := headAncestors[id]; ok {
			common = append(common, id)
		}
	}
	if len(common) == 0 {
		return hash.Zero, fmt.Errorf("%w: no common ancestor between %s and %s", silterrors.ErrInvalid, baseTip, headTip)
	}

	ancestorSets := make(map[hash.Hash]map[hash.Hash]commitlog.Commit, len(common))
	for _, id := range common {
		set, err := m.ancestorIDs(id)
		if err != nil {
			return hash.Zero, err
		}
		ancestorSets[id] = set
	}

	var minimal []hash.Hash
	for _, x := range common {
		dominated := false
		for _, y := range common {
			if x == y {
				continue
			}
			if _, ok := ancestorSets[y][x]; ok {
				dominated = true
				break
			}
		}
		if !dominated {
			minimal = append(minimal, x)
		}
	}

	sort.Slice(minimal, func(i, j int) bool {
		ci, cj := baseAncestors[minimal[i]], baseAncestors[minimal[j]]
		if ci.Timestamp == cj.Timestamp {
			return ci.ID.String() < cj.ID.String()
		}
		return ci.Timestamp > cj.Timestamp
	})
	return minimal[0], nil
}

// Merge implements spec.md §4.11: merges head branch H onto base
// branch B. On success with real work done, a merge commit with two
// parents is created and B is advanced; fast-forwards and no-ops
// advance/leave B without a new commit; conflicts abort with no
// changes made.
func (m *Merger) Merge(ctx context.Context, base, head string) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	baseTip, err := m.refStore.GetBranch(base)
	if err != nil {
		return nil, err
	}
	headTip, err := m.refStore.GetBranch(head)
	if err != nil {
		return nil, err
	}

	lca, err := m.lowestCommonAncestor(baseTip, headTip)
	if err != nil {
		return nil, err
	}

	// Check no-op first: if head is already reachable from base (this
	// also covers base == head), there is nothing to do. Only once
	// that's ruled out does lca == baseTip mean a genuine fast-forward.
	if lca == headTip {
		return &Result{NoOp: true}, nil
	}
	if lca == baseTip {
		if err := m.refStore.SetBranch(base, headTip, baseTip); err != nil {
			return nil, err
		}
		return &Result{FastForward: true}, nil
	}

	baseCommit, err := m.commits.Get(baseTip)
	if err != nil {
		return nil, err
	}
	headCommit, err := m.commits.Get(headTip)
	if err != nil {
		return nil, err
	}
	lcaCommit, err := m.commits.Get(lca)
	if err != nil {
		return nil, err
	}

	diffBaseVsLCA, err := m.differ.Diff(lcaCommit.RootHash, baseCommit.RootHash)
	if err != nil {
		return nil, fmt.Errorf("diffing base against common ancestor: %w", err)
	}
	diffHeadVsLCA, err := m.differ.Diff(lcaCommit.RootHash, headCommit.RootHash)
	if err != nil {
		return nil, fmt.Errorf("diffing head against common ancestor: %w", err)
	}

	conflicts := classify(diffBaseVsLCA, diffHeadVsLCA)
	if len(conflicts) > 0 {
		return &Result{Conflicts: conflicts}, nil
	}

	// No conflicts: every changed path takes whichever side changed it
	// (or the common ancestor's version if neither side touched it,
	// which is simply the effect of leaving base's tree alone there).
	// Since base and head never disagree on a touched path, applying
	// head's diff onto base's tree yields the correct union.
	meta := commit.Meta{Message: fmt.Sprintf("Merge branch '%s' into '%s'", head, base)}
	parents := []hash.Hash{baseTip, headTip}
	sortedParents := append([]hash.Hash(nil), parents...)
	sort.Slice(sortedParents, func(i, j int) bool { return sortedParents[i].String() < sortedParents[j].String() })
	tag := commit.Tag(sortedParents, meta, m.now().UTC().Format(time.RFC3339))

	mergedRoot, err := m.applyDiffOntoTree(baseCommit.RootHash, diffHeadVsLCA, tag)
	if err != nil {
		return nil, fmt.Errorf("constructing merged tree: %w", err)
	}

	id, err := m.pipeline.CommitRoot(ctx, mergedRoot, meta, base, parents, baseTip)
	if err != nil {
		return nil, err
	}
	return &Result{Commit: id}, nil
}

// Mergeability reports what Merge would do without doing it: whether
// the merge would be a no-op or fast-forward, and the conflict list a
// real three-way merge would hit — spec.md §6's `GET
// .../merge/<base>..<head>` dry-run resource.
func (m *Merger) Mergeability(base, head string) (*Result, error) {
	baseTip, err := m.refStore.GetBranch(base)
	if err != nil {
		return nil, err
	}
	headTip, err := m.refStore.GetBranch(head)
	if err != nil {
		return nil, err
	}

	lca, err := m.lowestCommonAncestor(baseTip, headTip)
	if err != nil {
		return nil, err
	}
	if lca == headTip {
		return &Result{NoOp: true}, nil
	}
	if lca == baseTip {
		return &Result{FastForward: true}, nil
	}

	baseCommit, err := m.commits.Get(baseTip)
	if err != nil {
		return nil, err
	}
	headCommit, err := m.commits.Get(headTip)
	if err != nil {
		return nil, err
	}
	lcaCommit, err := m.commits.Get(lca)
	if err != nil {
		return nil, err
	}

	diffBaseVsLCA, err := m.differ.Diff(lcaCommit.RootHash, baseCommit.RootHash)
	if err != nil {
		return nil, fmt.Errorf("diffing base against common ancestor: %w", err)
	}
	diffHeadVsLCA, err := m.differ.Diff(lcaCommit.RootHash, headCommit.RootHash)
	if err != nil {
		return nil, fmt.Errorf("diffing head against common ancestor: %w", err)
	}
	return &Result{Conflicts: classify(diffBaseVsLCA, diffHeadVsLCA)}, nil
}

// classify implements spec.md §4.11 step 2: for every path touched on
// either side relative to the LCA, decide whether it's a conflict.
// Paths untouched by either diff are implicitly "both sides unchanged"
// and never appear here.
func classify(baseDiff, headDiff merkle.DiffResult) []Conflict {
	type side struct {
		added    map[string]merkle.Entry
		modified map[string]merkle.ModifiedEntry
		removed  map[string]merkle.Entry
	}
	collect := func(d merkle.DiffResult) side {
		s := side{added: map[string]merkle.Entry{}, modified: map[string]merkle.ModifiedEntry{}, removed: map[string]merkle.Entry{}}
		for _, e := range d.Added {
			s.added[e.Path] = e
		}
		for _, e := range d.Modified {
			s.modified[e.Path] = e
		}
		for _, e := range d.Removed {
			s.removed[e.Path] = e
		}
		return s
	}
	b := collect(baseDiff)
	h := collect(headDiff)

	touched := map[string]struct{}{}
	for p := range b.added {
		touched[p] = struct{}{}
	}
	for p := range b.modified {
		touched[p] = struct{}{}
	}
	for p := range b.removed {
		touched[p] = struct{}{}
	}
	for p := range h.added {
		touched[p] = struct{}{}
	}
	for p := range h.modified {
		touched[p] = struct{}{}
	}
	for p := range h.removed {
		touched[p] = struct{}{}
	}

	var paths []string
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var conflicts []Conflict
	for _, p := range paths {
		_, bAdded := b.added[p]
		bMod, bModified := b.modified[p]
		_, bRemoved := b.removed[p]
		_, hAdded := h.added[p]
		hMod, hModified := h.modified[p]
		_, hRemoved := h.removed[p]

		bChanged := bAdded || bModified || bRemoved
		hChanged := hAdded || hModified || hRemoved
		if !bChanged || !hChanged {
			continue // one side unchanged: the changed side wins, no conflict
		}

		switch {
		case bRemoved && hRemoved:
			continue // both removed: identical outcome
		case bRemoved != hRemoved:
			conflicts = append(conflicts, Conflict{Path: p, Reason: "one side removed the path while the other modified it"})
		case bAdded && hAdded:
			conflicts = append(conflicts, Conflict{Path: p, Reason: "both sides added this path independently"})
		case bModified && hModified:
			if bMod.New.Hash == hMod.New.Hash {
				continue // identical content change on both sides: not a conflict
			}
			conflicts = append(conflicts, Conflict{Path: p, Reason: "both sides modified this path differently"})
		default:
			conflicts = append(conflicts, Conflict{Path: p, Reason: "both sides changed this path incompatibly"})
		}
	}
	return conflicts
}

// applyDiffOntoTree folds headDiff's added/modified/removed paths onto
// baseRoot via the same Merkle builder the Commit Pipeline uses,
// without touching any ref. Content for added/modified paths is read
// back from the Version Store (head's bytes are already durable
// there; the builder's blob Put is then a content-addressed no-op).
func (m *Merger) applyDiffOntoTree(baseRoot hash.Hash, headDiff merkle.DiffResult, tag hash.Hash) (hash.Hash, error) {
	files := make([]merkle.StagedFile, 0, len(headDiff.Added)+len(headDiff.Modified)+len(headDiff.Removed))

	for _, e := range headDiff.Added {
		data, err := m.blobs.Get(e.File.Hash)
		if err != nil {
			return hash.Zero, fmt.Errorf("reading added blob for %s: %w", e.Path, err)
		}
		files = append(files, fileNodeToStaged(e.Path, e.File, data, merkle.Added))
	}
	for _, e := range headDiff.Modified {
		data, err := m.blobs.Get(e.New.Hash)
		if err != nil {
			return hash.Zero, fmt.Errorf("reading modified blob for %s: %w", e.Path, err)
		}
		files = append(files, fileNodeToStaged(e.Path, e.New, data, merkle.Modified))
	}
	for _, e := range headDiff.Removed {
		files = append(files, merkle.StagedFile{Path: e.Path, Status: merkle.Removed})
	}

	return m.pipeline.Builder().Build(files, baseRoot, tag)
}

func fileNodeToStaged(path string, n objectdb.FileNode, content []byte, status merkle.ChangeStatus) merkle.StagedFile {
	return merkle.StagedFile{
		Path:       path,
		Status:     status,
		Content:    content,
		ModTime:    time.Unix(n.LastModifiedSeconds, int64(n.LastModifiedNanoseconds)),
		DataType:   n.DataType,
		MimeType:   n.MimeType,
		Extension:  n.Extension,
		SchemaHash: n.SchemaHash,
	}
}
