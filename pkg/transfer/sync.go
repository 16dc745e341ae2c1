package transfer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/objectdb"
)

// walkConcurrency bounds how many has_node/put_node/put_blob calls a
// single Push or Pull has in flight at once, the same errgroup.SetLimit
// pattern pkg/merkle's builder uses for its own fan-out.
const walkConcurrency = 8

// Push implements spec.md §4.12's push algorithm: post-order walk the
// tree rooted at commit's root, filling in whatever the remote is
// missing, then the commit record, then the branch ref itself —
// leaving the ref advance, the one step that makes the new commit
// visible, for last.
func Push(ctx context.Context, local *LocalServer, remote Server, branch string, commit hash.Hash) error {
	c, err := local.GetCommit(ctx, commit)
	if err != nil {
		return fmt.Errorf("resolving local commit %s: %w", commit, err)
	}

	if err := pushDir(ctx, local, remote, c.RootHash); err != nil {
		return fmt.Errorf("pushing tree %s: %w", c.RootHash, err)
	}

	if err := withRetry(ctx, func() error { return remote.PutCommit(ctx, c) }); err != nil {
		return fmt.Errorf("pushing commit record %s: %w", commit, err)
	}

	previous, err := remote.GetBranch(ctx, branch)
	if err != nil {
		previous = hash.Zero // branch doesn't exist remotely yet
	}
	if err := withRetry(ctx, func() error {
		return remote.AdvanceBranch(ctx, branch, commit, previous)
	}); err != nil {
		return fmt.Errorf("advancing remote branch %q to %s: %w", branch, commit, err)
	}
	return nil
}

// pushDir walks one DirNode post-order: children (subdirectories, then
// this directory's own VNode buckets and their file leaves) before the
// DirNode itself, so that by the time any node is put, everything it
// references is already present server-side.
func pushDir(ctx context.Context, local *LocalServer, remote Server, dirHash hash.Hash) error {
	has, err := remote.HasNode(ctx, NodeDir, dirHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	dir, err := local.objects.GetDir(dirHash)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)
	for _, ref := range dir.VNodes {
		ref := ref
		g.Go(func() error { return pushVNode(gctx, local, remote, ref.Hash) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return putNodeIfMissing(ctx, remote, NodeDir, dirHash, objectdb.EncodeDirNode(dir))
}

// pushVNode pushes one bucket's file/subdirectory children, then the
// bucket itself, then (step 2 of spec.md §4.12) any blob the server
// reports missing for that bucket.
func pushVNode(ctx context.Context, local *LocalServer, remote Server, vnodeHash hash.Hash) error {
	has, err := remote.HasNode(ctx, NodeVNode, vnodeHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	v, err := local.objects.GetVNode(vnodeHash)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)
	for _, e := range v.Entries {
		e := e
		g.Go(func() error {
			if e.IsDir {
				return pushDir(gctx, local, remote, e.Hash)
			}
			return pushFile(gctx, local, remote, e.Hash)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := putNodeIfMissing(ctx, remote, NodeVNode, vnodeHash, objectdb.EncodeVNode(v)); err != nil {
		return err
	}

	missing, err := remote.ListMissingBlobs(ctx, vnodeHash)
	if err != nil {
		return err
	}
	bg, bgctx := errgroup.WithContext(ctx)
	bg.SetLimit(walkConcurrency)
	for _, blobHash := range missing {
		blobHash := blobHash
		bg.Go(func() error { return pushBlob(bgctx, local, remote, blobHash) })
	}
	return bg.Wait()
}

func pushFile(ctx context.Context, local *LocalServer, remote Server, fileHash hash.Hash) error {
	has, err := remote.HasNode(ctx, NodeFile, fileHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	f, err := local.objects.GetFile(fileHash)
	if err != nil {
		return err
	}
	if !f.SchemaHash.IsZero() {
		if err := pushSchema(ctx, local, remote, f.SchemaHash); err != nil {
			return err
		}
	}
	return putNodeIfMissing(ctx, remote, NodeFile, fileHash, objectdb.EncodeFileNode(f))
}

func pushSchema(ctx context.Context, local *LocalServer, remote Server, schemaHash hash.Hash) error {
	has, err := remote.HasNode(ctx, NodeSchema, schemaHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	s, err := local.objects.GetSchema(schemaHash)
	if err != nil {
		return err
	}
	return putNodeIfMissing(ctx, remote, NodeSchema, schemaHash, objectdb.EncodeSchemaNode(s))
}

func pushBlob(ctx context.Context, local *LocalServer, remote Server, h hash.Hash) error {
	has, err := remote.HasBlob(ctx, h)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	data, err := local.blobs.Get(h)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error { return remote.PutBlob(ctx, h, data) })
}

func putNodeIfMissing(ctx context.Context, remote Server, kind NodeKind, h hash.Hash, data []byte) error {
	return withRetry(ctx, func() error { return remote.PutNode(ctx, kind, h, data) })
}

// Pull implements spec.md §4.12's pull algorithm: fetch missing tree
// nodes top-down from remote's branch tip, then (for an eager clone)
// every blob it references. Pull has no shallow or lazy mode that
// defers blob fetches to checkout time: it always performs the eager
// variant.
func Pull(ctx context.Context, remote Server, local *LocalServer, branch string) (hash.Hash, error) {
	tip, err := remote.GetBranch(ctx, branch)
	if err != nil {
		return hash.Zero, fmt.Errorf("resolving remote branch %q: %w", branch, err)
	}

	c, err := remote.GetCommit(ctx, tip)
	if err != nil {
		return hash.Zero, fmt.Errorf("fetching commit %s: %w", tip, err)
	}
	if err := withRetry(ctx, func() error { return local.PutCommit(ctx, c) }); err != nil {
		return hash.Zero, fmt.Errorf("storing commit %s: %w", tip, err)
	}

	if err := pullDir(ctx, remote, local, c.RootHash); err != nil {
		return hash.Zero, fmt.Errorf("pulling tree %s: %w", c.RootHash, err)
	}

	exists, err := local.refs.BranchExists(branch)
	if err != nil {
		return hash.Zero, err
	}
	if !exists {
		if err := local.refs.CreateBranch(branch, tip); err != nil {
			return hash.Zero, fmt.Errorf("creating local branch %q: %w", branch, err)
		}
		return tip, nil
	}
	previous, err := local.GetBranch(ctx, branch)
	if err != nil {
		return hash.Zero, err
	}
	if err := local.refs.SetBranch(branch, tip, previous); err != nil {
		return hash.Zero, fmt.Errorf("advancing local branch %q to %s: %w", branch, tip, err)
	}
	return tip, nil
}

// pullDir fetches dirHash and every node/blob it transitively
// references, pruning subtrees the local store already has (spec.md
// §4.12: "fetch missing tree nodes top-down").
func pullDir(ctx context.Context, remote Server, local *LocalServer, dirHash hash.Hash) error {
	has, err := local.objects.HasDir(dirHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	data, err := fetchNode(ctx, remote, NodeDir, dirHash)
	if err != nil {
		return err
	}
	dir, err := objectdb.DecodeDirNode(data)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)
	for _, ref := range dir.VNodes {
		ref := ref
		g.Go(func() error { return pullVNode(gctx, remote, local, ref.Hash) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return local.objects.PutDir(dirHash, dir)
}

func pullVNode(ctx context.Context, remote Server, local *LocalServer, vnodeHash hash.Hash) error {
	has, err := local.objects.HasVNode(vnodeHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	data, err := fetchNode(ctx, remote, NodeVNode, vnodeHash)
	if err != nil {
		return err
	}
	v, err := objectdb.DecodeVNode(data)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)
	for _, e := range v.Entries {
		e := e
		g.Go(func() error {
			if e.IsDir {
				return pullDir(gctx, remote, local, e.Hash)
			}
			return pullFile(gctx, remote, local, e.Hash)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := local.objects.PutVNode(vnodeHash, v); err != nil {
		return err
	}
	return pullBlobs(ctx, remote, local, v)
}

func pullFile(ctx context.Context, remote Server, local *LocalServer, fileHash hash.Hash) error {
	has, err := local.objects.HasFile(fileHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	data, err := fetchNode(ctx, remote, NodeFile, fileHash)
	if err != nil {
		return err
	}
	f, err := objectdb.DecodeFileNode(data)
	if err != nil {
		return err
	}
	if !f.SchemaHash.IsZero() {
		if err := pullSchema(ctx, remote, local, f.SchemaHash); err != nil {
			return err
		}
	}
	return local.objects.PutFile(fileHash, f)
}

func pullSchema(ctx context.Context, remote Server, local *LocalServer, schemaHash hash.Hash) error {
	has, err := local.objects.HasSchema(schemaHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	data, err := fetchNode(ctx, remote, NodeSchema, schemaHash)
	if err != nil {
		return err
	}
	s, err := objectdb.DecodeSchemaNode(data)
	if err != nil {
		return err
	}
	return local.objects.PutSchema(schemaHash, s)
}

// pullBlobs eagerly fetches every blob v's file entries reference that
// the local store doesn't already have.
func pullBlobs(ctx context.Context, remote Server, local *LocalServer, v objectdb.VNode) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)
	for _, e := range v.Entries {
		if e.IsDir {
			continue
		}
		e := e
		g.Go(func() error {
			f, err := local.objects.GetFile(e.Hash)
			if err != nil {
				return err
			}
			if local.blobs.Exists(f.Hash) {
				return nil
			}
			var data []byte
			if err := withRetry(gctx, func() error {
				var err error
				data, err = remote.GetBlob(gctx, f.Hash)
				return err
			}); err != nil {
				return err
			}
			got, err := local.blobs.Put(data)
			if err != nil {
				return err
			}
			if got != f.Hash {
				return fmt.Errorf("pulled blob hashed to %s, expected %s", got, f.Hash)
			}
			return nil
		})
	}
	return g.Wait()
}

func fetchNode(ctx context.Context, remote Server, kind NodeKind, h hash.Hash) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, func() error {
		var err error
		data, err = remote.GetNode(ctx, kind, h)
		return err
	})
	return data, err
}
