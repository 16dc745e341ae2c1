// serverops.go holds Repository operations the HTTP surface
// (internal/httpapi) needs that have no working-copy filesystem to
// read from: a bare/server-side repository only ever sees bytes
// handed to it over the wire, so these build trees directly against
// the Merkle builder the way pkg/merge already does, instead of
// staging a path and reading it back off disk.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/siltdata/silt/pkg/commit"
	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merge"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/workspace"
)

// Mergeability reports what Merge(ctx, head) would do against base
// without doing it (spec.md §6's `GET .../merge/<base>..<head>`).
func (r *Repository) Mergeability(base, head string) (*merge.Result, error) {
	return r.merger.Mergeability(base, head)
}

// ResolveRef resolves a branch name or hex commit id to a commit id,
// the dual form spec.md §6's `file/<branch_or_commit>/<path>` resource
// accepts.
func (r *Repository) ResolveRef(nameOrCommit string) (hash.Hash, error) {
	if h, err := hash.Parse(nameOrCommit); err == nil {
		if _, getErr := r.commits.Get(h); getErr == nil {
			return h, nil
		}
	}
	return r.refs.GetBranch(nameOrCommit)
}

// GetCommit returns one commit record by id.
func (r *Repository) GetCommit(id hash.Hash) (commitlog.Commit, error) {
	return r.commits.Get(id)
}

// CommitHistory returns commit's ancestor list (spec.md §6 "paginated
// ancestor list"; pagination itself is left to the HTTP handler, which
// slices this in memory). Fails with ErrShallowRequired on a shallow
// clone.
func (r *Repository) CommitHistory(id hash.Hash) ([]commitlog.Commit, error) {
	if r.IsShallow() {
		return nil, fmt.Errorf("%w: full history is not available in a shallow clone", silterrors.ErrShallowRequired)
	}
	return r.commits.History(id)
}

// ListBranches returns every branch name.
func (r *Repository) ListBranches() ([]string, error) {
	return r.refs.ListBranches()
}

// CreateBranchFrom creates branch name pointing at whatever from
// (a branch name or hex commit id) resolves to.
func (r *Repository) CreateBranchFrom(name, from string) error {
	resolved, err := r.ResolveRef(from)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", from, err)
	}
	return r.refs.CreateBranch(name, resolved)
}

// GetTreeNode resolves path within commitID's tree, reporting whether
// it names a directory (in which case entries lists its direct
// children) or a file.
func (r *Repository) GetTreeNode(commitID hash.Hash, path string) (entries []merkle.Entry, file objectdb.FileNode, isDir bool, err error) {
	c, err := r.commits.Get(commitID)
	if err != nil {
		return nil, objectdb.FileNode{}, false, err
	}
	if entries, err := r.traverser.List(c.RootHash, path); err == nil {
		return entries, objectdb.FileNode{}, true, nil
	}
	f, err := r.traverser.GetFile(c.RootHash, path)
	if err != nil {
		return nil, objectdb.FileNode{}, false, err
	}
	return nil, f, false, nil
}

// GetFileBytes resolves path's blob body within commitID's tree.
func (r *Repository) GetFileBytes(commitID hash.Hash, path string) ([]byte, objectdb.FileNode, error) {
	c, err := r.commits.Get(commitID)
	if err != nil {
		return nil, objectdb.FileNode{}, err
	}
	f, err := r.traverser.GetFile(c.RootHash, path)
	if err != nil {
		return nil, objectdb.FileNode{}, err
	}
	data, err := r.blobs.Get(f.Hash)
	return data, f, err
}

// CommitFile builds a single-file change directly against branch's
// current tip and commits it — the server-side analogue of Add+Commit
// for callers with no working-copy filesystem (spec.md §6's `PUT
// .../file/<branch>/<dir_path>`, which "creates an implicit commit"
// when no workspace is involved). A file whose content already matches
// branch's tip is a no-op, returning the tip unchanged.
func (r *Repository) CommitFile(ctx context.Context, branch, path string, data []byte, meta commit.Meta) (hash.Hash, error) {
	if ctx.Err() != nil {
		return hash.Zero, ctx.Err()
	}

	exists, err := r.refs.BranchExists(branch)
	if err != nil {
		return hash.Zero, err
	}

	var priorRoot hash.Hash
	var parents []hash.Hash
	expectedPrevious := hash.Zero
	status := merkle.Added

	if exists {
		tip, err := r.refs.GetBranch(branch)
		if err != nil {
			return hash.Zero, err
		}
		c, err := r.commits.Get(tip)
		if err != nil {
			return hash.Zero, err
		}
		priorRoot = c.RootHash
		parents = []hash.Hash{tip}
		expectedPrevious = tip

		if existing, err := r.traverser.GetFile(priorRoot, path); err == nil {
			if existing.Hash == hash.Sum(data) {
				return tip, nil
			}
			status = merkle.Modified
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	tag := commit.Tag(parents, meta, timestamp)
	files := []merkle.StagedFile{{
		Path:      path,
		Status:    status,
		ModTime:   time.Now(),
		DataType:  dataTypeFor(path, data),
		MimeType:  mimeTypeFor(path, data),
		Extension: extensionFor(path),
		Content:   data,
	}}
	rootHash, err := r.builder.Build(files, priorRoot, tag)
	if err != nil {
		return hash.Zero, fmt.Errorf("building tree: %w", err)
	}
	return r.pipeline.CommitRoot(ctx, rootHash, meta, branch, parents, expectedPrevious)
}

// DeleteFile commits path's removal from branch, requiring branch's
// current tip to equal basedOn first (spec.md §6's `oxen-based-on`
// header check): a stale basedOn reports ErrConflict rather than
// silently deleting over someone else's concurrent push.
func (r *Repository) DeleteFile(ctx context.Context, branch, path string, basedOn hash.Hash, meta commit.Meta) (hash.Hash, error) {
	if ctx.Err() != nil {
		return hash.Zero, ctx.Err()
	}

	tip, err := r.refs.GetBranch(branch)
	if err != nil {
		return hash.Zero, err
	}
	if tip != basedOn {
		return hash.Zero, fmt.Errorf("%w: branch %q tip is %s, not %s", silterrors.ErrConflict, branch, tip, basedOn)
	}
	c, err := r.commits.Get(tip)
	if err != nil {
		return hash.Zero, err
	}

	parents := []hash.Hash{tip}
	timestamp := time.Now().UTC().Format(time.RFC3339)
	tag := commit.Tag(parents, meta, timestamp)
	files := []merkle.StagedFile{{Path: path, Status: merkle.Removed}}
	rootHash, err := r.builder.Build(files, c.RootHash, tag)
	if err != nil {
		return hash.Zero, fmt.Errorf("building tree: %w", err)
	}
	return r.pipeline.CommitRoot(ctx, rootHash, meta, branch, parents, tip)
}

// ChangeStatusAt reports whether data at path would be Added or
// Modified relative to commitID's tree — the classification the
// workspace file-upload handler needs before calling StageFile, since
// a workspace's own staging area has no prior tree of its own to
// compare against. ok is false when data already matches the tree
// exactly, the no-op case callers should skip staging for.
func (r *Repository) ChangeStatusAt(commitID hash.Hash, path string, data []byte) (status merkle.ChangeStatus, ok bool) {
	c, err := r.commits.Get(commitID)
	if err != nil {
		return merkle.Added, true
	}
	f, err := r.traverser.GetFile(c.RootHash, path)
	if err != nil {
		return merkle.Added, true
	}
	if f.Hash == hash.Sum(data) {
		return merkle.Modified, false
	}
	return merkle.Modified, true
}

// CommitWorkspace exports every table ws has indexed, snapshots its
// staging area, and commits the result onto branch — spec.md §4.9's
// "POST .../workspaces/<id>/commit". It fails with workspace.ErrBehind
// if ws has fallen behind branch's current tip (the caller must rebase
// ws first), matching the same fast-forward discipline a normal
// Commit enforces through persistCommit's CAS.
func (r *Repository) CommitWorkspace(ctx context.Context, ws *workspace.Workspace, branch string, meta commit.Meta) (hash.Hash, error) {
	if ctx.Err() != nil {
		return hash.Zero, ctx.Err()
	}

	exists, err := r.refs.BranchExists(branch)
	if err != nil {
		return hash.Zero, err
	}
	var tip hash.Hash
	if exists {
		tip, err = r.refs.GetBranch(branch)
		if err != nil {
			return hash.Zero, err
		}
	}
	if !ws.CanCommitOnto(tip) {
		return hash.Zero, workspace.ErrBehind
	}
	if err := ws.ExportAllTables(); err != nil {
		return hash.Zero, err
	}

	var parents []hash.Hash
	if !tip.IsZero() {
		parents = []hash.Hash{tip}
	}
	return r.pipeline.Commit(ctx, ws.Staging(), ws.Content, meta, branch, parents)
}
