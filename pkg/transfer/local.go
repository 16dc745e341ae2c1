package transfer

import (
	"context"
	"fmt"

	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/refs"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/versionstore"
)

// LocalServer implements Server directly against one repository's
// local stores. It is the backing for internal/httpapi's handlers
// (each HTTP resource of spec.md §6 is a thin wrapper calling one
// LocalServer method) and, used directly with no HTTP in between, lets
// Push/Pull be exercised between two in-process repositories without
// standing up a listener.
type LocalServer struct {
	objects *objectdb.DB
	blobs   versionstore.Store
	commits *commitlog.Log
	refs    *refs.Store
}

// NewLocalServer wires a LocalServer over one repository's four stores.
func NewLocalServer(objects *objectdb.DB, blobs versionstore.Store, commits *commitlog.Log, refStore *refs.Store) *LocalServer {
	return &LocalServer{objects: objects, blobs: blobs, commits: commits, refs: refStore}
}

var _ Server = (*LocalServer)(nil)

func (s *LocalServer) HasNode(ctx context.Context, kind NodeKind, h hash.Hash) (bool, error) {
	switch kind {
	case NodeFile:
		return s.objects.HasFile(h)
	case NodeDir:
		return s.objects.HasDir(h)
	case NodeVNode:
		return s.objects.HasVNode(h)
	case NodeSchema:
		return s.objects.HasSchema(h)
	default:
		return false, fmt.Errorf("%w: unknown node kind %d", silterrors.ErrInvalid, kind)
	}
}

func (s *LocalServer) GetNode(ctx context.Context, kind NodeKind, h hash.Hash) ([]byte, error) {
	switch kind {
	case NodeFile:
		n, err := s.objects.GetFile(h)
		if err != nil {
			return nil, err
		}
		return objectdb.EncodeFileNode(n), nil
	case NodeDir:
		n, err := s.objects.GetDir(h)
		if err != nil {
			return nil, err
		}
		return objectdb.EncodeDirNode(n), nil
	case NodeVNode:
		n, err := s.objects.GetVNode(h)
		if err != nil {
			return nil, err
		}
		return objectdb.EncodeVNode(n), nil
	case NodeSchema:
		n, err := s.objects.GetSchema(h)
		if err != nil {
			return nil, err
		}
		return objectdb.EncodeSchemaNode(n), nil
	default:
		return nil, fmt.Errorf("%w: unknown node kind %d", silterrors.ErrInvalid, kind)
	}
}

// PutNode decodes data according to kind and idempotently inserts it
// under h (spec.md §4.4's put_node semantics, exercised across the
// wire rather than just locally).
func (s *LocalServer) PutNode(ctx context.Context, kind NodeKind, h hash.Hash, data []byte) error {
	switch kind {
	case NodeFile:
		n, err := objectdb.DecodeFileNode(data)
		if err != nil {
			return err
		}
		return s.objects.PutFile(h, n)
	case NodeDir:
		n, err := objectdb.DecodeDirNode(data)
		if err != nil {
			return err
		}
		return s.objects.PutDir(h, n)
	case NodeVNode:
		n, err := objectdb.DecodeVNode(data)
		if err != nil {
			return err
		}
		return s.objects.PutVNode(h, n)
	case NodeSchema:
		n, err := objectdb.DecodeSchemaNode(data)
		if err != nil {
			return err
		}
		return s.objects.PutSchema(h, n)
	default:
		return fmt.Errorf("%w: unknown node kind %d", silterrors.ErrInvalid, kind)
	}
}

// ListMissingBlobs resolves vnodeHash's file entries to their FileNodes
// and reports which of the referenced blob hashes this server does not
// already hold, implementing spec.md §4.12's list_missing_blobs.
func (s *LocalServer) ListMissingBlobs(ctx context.Context, vnodeHash hash.Hash) ([]hash.Hash, error) {
	v, err := s.objects.GetVNode(vnodeHash)
	if err != nil {
		return nil, err
	}
	var missing []hash.Hash
	for _, e := range v.Entries {
		if e.IsDir {
			continue
		}
		f, err := s.objects.GetFile(e.Hash)
		if err != nil {
			return nil, err
		}
		if !s.blobs.Exists(f.Hash) {
			missing = append(missing, f.Hash)
		}
	}
	return missing, nil
}

func (s *LocalServer) HasBlob(ctx context.Context, h hash.Hash) (bool, error) {
	return s.blobs.Exists(h), nil
}

func (s *LocalServer) GetBlob(ctx context.Context, h hash.Hash) ([]byte, error) {
	return s.blobs.Get(h)
}

// PutBlob writes data into the version store. The version store
// derives its own content hash from data, so h is used only to verify
// the sender and receiver agree on what was transferred — a mismatch
// means the bytes were corrupted or substituted in transit.
func (s *LocalServer) PutBlob(ctx context.Context, h hash.Hash, data []byte) error {
	got, err := s.blobs.Put(data)
	if err != nil {
		return err
	}
	if got != h {
		return fmt.Errorf("%w: blob arrived as %s, expected %s", silterrors.ErrIntegrity, got, h)
	}
	return nil
}

func (s *LocalServer) GetCommit(ctx context.Context, id hash.Hash) (commitlog.Commit, error) {
	return s.commits.Get(id)
}

func (s *LocalServer) PutCommit(ctx context.Context, c commitlog.Commit) error {
	return s.commits.Put(c)
}

func (s *LocalServer) GetTree(ctx context.Context, commitID hash.Hash) (objectdb.DirNode, error) {
	c, err := s.commits.Get(commitID)
	if err != nil {
		return objectdb.DirNode{}, err
	}
	return s.objects.GetDir(c.RootHash)
}

func (s *LocalServer) GetBranch(ctx context.Context, name string) (hash.Hash, error) {
	return s.refs.GetBranch(name)
}

// AdvanceBranch applies spec.md §4.12 step 4's fast-forward-enforced
// branch move. A genuine fast-forward has expectedPrevious reachable
// from to via ParentIDs; for a two-parent merge commit, expectedPrevious
// need only be ONE of to's parents (the same relaxation
// pkg/commit.Pipeline.CommitRoot makes for merge commits, since a
// merge's sorted parents don't necessarily list the branch's own tip
// first). Either way the check is: is expectedPrevious this commit, or
// one of its direct parents. We require it be a parent rather than
// walk the full history, since the client is expected to
// have already fast-forwarded or merged locally before pushing; a
// deeper rewrite is a force-push, which this primitive deliberately
// does not support.
func (s *LocalServer) AdvanceBranch(ctx context.Context, name string, to, expectedPrevious hash.Hash) error {
	if !expectedPrevious.IsZero() {
		c, err := s.commits.Get(to)
		if err != nil {
			return err
		}
		if !isParentOf(c, expectedPrevious) && to != expectedPrevious {
			return fmt.Errorf("%w: %s does not fast-forward from %s", silterrors.ErrConflict, to, expectedPrevious)
		}
	}
	return s.refs.SetBranch(name, to, expectedPrevious)
}

func isParentOf(c commitlog.Commit, candidate hash.Hash) bool {
	for _, p := range c.ParentIDs {
		if p == candidate {
			return true
		}
	}
	return false
}
