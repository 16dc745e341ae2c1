// Package transfer implements the Transfer Protocol (spec.md §4.12,
// C12): the primitives a push/pull walk needs to move the minimal set
// of Merkle nodes and blobs between two repositories, plus the
// Push/Pull algorithms themselves. The teacher has no networking
// layer to generalize, so this is built fresh, grounded in the
// `cenkalti/backoff/v4` retry idiom the aws-amazon-ssm-agent pack repo
// uses throughout its update/transfer code (agent/backoffconfig).
package transfer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/silterrors"
)

// NodeKind distinguishes the four Object DB tables on the wire, since
// Server's node primitives are generic across all of them.
type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeDir
	NodeVNode
	NodeSchema
)

// Server is the set of primitives spec.md §4.12 requires a peer to
// expose: the four tree-node operations, blob transfer, and commit/ref
// lookup. LocalServer implements Server directly against local
// storage; internal/httpapi.HTTPClient implements it over HTTP against
// a remote host. Push and Pull below are
// written against this interface so they run identically whether the
// peer is local (tests, same-process clone) or remote.
type Server interface {
	HasNode(ctx context.Context, kind NodeKind, h hash.Hash) (bool, error)
	PutNode(ctx context.Context, kind NodeKind, h hash.Hash, data []byte) error
	GetNode(ctx context.Context, kind NodeKind, h hash.Hash) ([]byte, error)

	// ListMissingBlobs reports, among the file entries a VNode
	// references, which blob hashes the server does not yet have.
	ListMissingBlobs(ctx context.Context, vnodeHash hash.Hash) ([]hash.Hash, error)
	HasBlob(ctx context.Context, h hash.Hash) (bool, error)
	PutBlob(ctx context.Context, h hash.Hash, data []byte) error
	GetBlob(ctx context.Context, h hash.Hash) ([]byte, error)

	GetCommit(ctx context.Context, id hash.Hash) (commitlog.Commit, error)
	// PutCommit is the symmetric counterpart GetCommit implies but
	// spec.md §4.12 doesn't separately enumerate: step 3 of Push
	// ("put the commit record itself") needs a way to write one.
	PutCommit(ctx context.Context, c commitlog.Commit) error
	// GetTree resolves a commit directly to its root DirNode, the
	// named `get_tree(commit_id)` primitive of spec.md §4.12 — a
	// convenience over GetCommit+GetNode(Dir, ...) that saves Pull a
	// round trip when it only needs the root to start its walk.
	GetTree(ctx context.Context, commitID hash.Hash) (objectdb.DirNode, error)

	GetBranch(ctx context.Context, name string) (hash.Hash, error)
	// AdvanceBranch implements step 4 of Push ("request the server
	// advance B... the server enforces fast-forward"): a CAS move from
	// expectedPrevious to to, with the server additionally verifying
	// that expectedPrevious is to itself or one of to's direct parents
	// before applying the ref move. An older ancestor is rejected.
	AdvanceBranch(ctx context.Context, name string, to, expectedPrevious hash.Hash) error
}

// defaultBackoff mirrors the bound aws-amazon-ssm-agent's
// backoffconfig.GetDefaultExponentialBackoff applies: a short initial
// interval, capped growth, and a hard retry ceiling so a genuinely
// broken peer fails fast rather than retrying forever.
func defaultBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 2.0
	return backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx)
}

// withRetry runs op under the package's default exponential backoff
// policy, satisfying spec.md §5's "client may resume mid-push by
// re-running the protocol" for individual transient IO failures
// without the caller needing to restart the whole walk. Only
// classified-IO and unclassified errors (the latter standing in for
// network failures an HTTP-backed Server would surface, which carry no
// silterrors kind) are retried; domain errors — conflict, not-found,
// invalid, integrity — are permanent, since retrying them only delays
// reporting a problem retrying cannot fix.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		switch silterrors.ClassOf(err) {
		case silterrors.KindIO, silterrors.KindUnknown:
			return err
		default:
			return backoff.Permanent(err)
		}
	}, defaultBackoff(ctx))
}
