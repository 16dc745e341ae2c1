// sync.go carries the Transfer Protocol (pkg/transfer.Server) over
// HTTP under /api/repos/<ns>/<repo>/sync/..., since spec.md §6's named
// resource list covers the commit/branch/tree/file/workspace surface
// but not every push/pull primitive (HasNode, ListMissingBlobs,
// AdvanceBranch's CAS, ...). This mirrors pkg/transfer.Server's own
// beyond-spec additions (PutCommit, GetTree) the same way: a necessary
// but unstated extension, documented rather than silently added.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/repo"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/transfer"
)

func nodeKindFromString(s string) (transfer.NodeKind, error) {
	switch s {
	case "file":
		return transfer.NodeFile, nil
	case "dir":
		return transfer.NodeDir, nil
	case "vnode":
		return transfer.NodeVNode, nil
	case "schema":
		return transfer.NodeSchema, nil
	default:
		return 0, fmt.Errorf("%w: unknown node kind %q", silterrors.ErrInvalid, s)
	}
}

func nodeKindString(k transfer.NodeKind) string {
	switch k {
	case transfer.NodeFile:
		return "file"
	case transfer.NodeDir:
		return "dir"
	case transfer.NodeVNode:
		return "vnode"
	case transfer.NodeSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// syncServer resolves the repo and its transfer.Server face.
func (a *api) syncServer(r *http.Request) (*repo.Repository, transfer.Server, error) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		return nil, nil, err
	}
	return rp, rp.Server(), nil
}

// putNode implements POST .../tree/nodes: idempotent ingest of one
// encoded Merkle node (PutNode). The body carries the raw encoded
// node bytes produced by objectdb's Encode*Node functions; kind and
// hash travel as query parameters since the body itself is opaque.
func (a *api) putNode(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	kind, err := nodeKindFromString(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	h, err := hash.Parse(r.URL.Query().Get("hash"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	if err := server.PutNode(r.Context(), kind, h, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// hasOrGetNode implements GET .../sync/nodes/<kind>/<hash>: with
// ?check=1 it reports existence only (HasNode), otherwise it streams
// the encoded node body (GetNode).
func (a *api) hasOrGetNode(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	kind, err := nodeKindFromString(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	h, err := hash.Parse(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	if r.URL.Query().Get("check") != "" {
		ok, err := server.HasNode(r.Context(), kind, h)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, existsDTO{Exists: ok})
		return
	}

	data, err := server.GetNode(r.Context(), kind, h)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type existsDTO struct {
	Exists bool `json:"exists"`
}

// listMissingBlobs implements GET .../sync/blobs/<hash>/missing.
func (a *api) listMissingBlobs(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vnodeHash, err := hash.Parse(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	missing, err := server.ListMissingBlobs(r.Context(), vnodeHash)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]string, len(missing))
	for i, h := range missing {
		out[i] = h.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// getBlob implements GET .../sync/blobs/<hash>. With ?check=1 it
// reports existence only (HasBlob) instead of streaming the body.
func (a *api) getBlob(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := hash.Parse(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	if r.URL.Query().Get("check") != "" {
		ok, err := server.HasBlob(r.Context(), h)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, existsDTO{Exists: ok})
		return
	}

	data, err := server.GetBlob(r.Context(), h)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// putBlob implements PUT .../sync/blobs/<hash>.
func (a *api) putBlob(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := hash.Parse(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	if err := server.PutBlob(r.Context(), h, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSyncCommit implements GET .../sync/commits/<id>.
func (a *api) getSyncCommit(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := hash.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	c, err := server.GetCommit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitDTO(c))
}

// putSyncCommit implements PUT .../sync/commits/<id>.
func (a *api) putSyncCommit(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var dto commitDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, badRequest(err))
		return
	}
	c, err := fromCommitDTO(dto)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	if err := server.PutCommit(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSyncTree implements GET .../sync/tree/<commit>, returning the
// commit's root DirNode in objectdb's own encoded form (the same wire
// representation PutNode/GetNode exchange), so a client applies
// objectdb.DecodeDirNode directly with no intermediate DTO.
func (a *api) getSyncTree(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	commitID, err := hash.Parse(chi.URLParam(r, "commit"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	dir, err := server.GetTree(r.Context(), commitID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(objectdb.EncodeDirNode(dir))
}

// getSyncBranch implements GET .../sync/branches/<name>.
func (a *api) getSyncBranch(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tip, err := server.GetBranch(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branchDTO{Name: chi.URLParam(r, "name"), CommitID: tip.String()})
}

// advanceBranchRequest is the PUT .../sync/branches/<name> body: the
// CAS move AdvanceBranch performs (spec.md §4.12's Push step 4).
type advanceBranchRequest struct {
	To               string `json:"to"`
	ExpectedPrevious string `json:"expected_previous"`
}

// advanceSyncBranch implements PUT .../sync/branches/<name>.
func (a *api) advanceSyncBranch(w http.ResponseWriter, r *http.Request) {
	_, server, err := a.syncServer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req advanceBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	to, err := hash.Parse(req.To)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	expectedPrevious := hash.Zero
	if req.ExpectedPrevious != "" {
		expectedPrevious, err = hash.Parse(req.ExpectedPrevious)
		if err != nil {
			writeError(w, badRequest(err))
			return
		}
	}
	if err := server.AdvanceBranch(r.Context(), chi.URLParam(r, "name"), to, expectedPrevious); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HTTPClient implements transfer.Server against a remote silt server's
// /sync subtree, the client-side half of this file's server handlers —
// Push and Pull (pkg/transfer) run identically whether the peer is a
// same-process *transfer.LocalServer or this HTTP-backed one.
type HTTPClient struct {
	BaseURL string // e.g. "http://host:port/api/repos/<ns>/<repo>"
	HTTP    *http.Client
}

var _ transfer.Server = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient using http.DefaultClient if
// client is nil.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{BaseURL: baseURL, HTTP: client}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", silterrors.ErrIO, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return resp, remoteError(resp.StatusCode, eb.Error)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("%w: decoding response: %v", silterrors.ErrIO, err)
		}
	}
	return resp, nil
}

// remoteError reverses statusFor well enough for Push/Pull's
// silterrors.ClassOf-based retry and conflict handling to behave the
// same against a remote peer as against a LocalServer.
func remoteError(status int, msg string) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", silterrors.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", silterrors.ErrConflict, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", silterrors.ErrInvalid, msg)
	default:
		return fmt.Errorf("%w: %s", silterrors.ErrIO, msg)
	}
}

func (c *HTTPClient) HasNode(ctx context.Context, kind transfer.NodeKind, h hash.Hash) (bool, error) {
	var out existsDTO
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sync/nodes/%s/%s?check=1", nodeKindString(kind), h), nil, &out)
	if err != nil {
		if silterrors.ClassOf(err) == silterrors.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return out.Exists, nil
}

func (c *HTTPClient) PutNode(ctx context.Context, kind transfer.NodeKind, h hash.Hash, data []byte) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tree/nodes?kind=%s&hash=%s", nodeKindString(kind), h), bytes.NewReader(data), nil)
	return err
}

func (c *HTTPClient) GetNode(ctx context.Context, kind transfer.NodeKind, h hash.Hash) ([]byte, error) {
	return c.getBytes(ctx, fmt.Sprintf("/sync/nodes/%s/%s", nodeKindString(kind), h))
}

func (c *HTTPClient) getBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", silterrors.ErrIO, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return nil, remoteError(resp.StatusCode, eb.Error)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) ListMissingBlobs(ctx context.Context, vnodeHash hash.Hash) ([]hash.Hash, error) {
	var out []string
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sync/blobs/%s/missing", vnodeHash), nil, &out)
	if err != nil {
		return nil, err
	}
	hashes := make([]hash.Hash, len(out))
	for i, s := range out {
		h, err := hash.Parse(s)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	return hashes, nil
}

func (c *HTTPClient) HasBlob(ctx context.Context, h hash.Hash) (bool, error) {
	var out existsDTO
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sync/blobs/%s?check=1", h), nil, &out)
	if err != nil {
		if silterrors.ClassOf(err) == silterrors.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return out.Exists, nil
}

func (c *HTTPClient) GetBlob(ctx context.Context, h hash.Hash) ([]byte, error) {
	return c.getBytes(ctx, fmt.Sprintf("/sync/blobs/%s", h))
}

func (c *HTTPClient) PutBlob(ctx context.Context, h hash.Hash, data []byte) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/sync/blobs/%s", h), bytes.NewReader(data), nil)
	return err
}

func (c *HTTPClient) GetCommit(ctx context.Context, id hash.Hash) (commitlog.Commit, error) {
	var out commitDTO
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sync/commits/%s", id), nil, &out)
	if err != nil {
		return commitlog.Commit{}, err
	}
	return fromCommitDTO(out)
}

func (c *HTTPClient) PutCommit(ctx context.Context, cm commitlog.Commit) error {
	body, err := json.Marshal(toCommitDTO(cm))
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, fmt.Sprintf("/sync/commits/%s", cm.ID), bytes.NewReader(body), nil)
	return err
}

func (c *HTTPClient) GetTree(ctx context.Context, commitID hash.Hash) (objectdb.DirNode, error) {
	data, err := c.getBytes(ctx, fmt.Sprintf("/sync/tree/%s", commitID))
	if err != nil {
		return objectdb.DirNode{}, err
	}
	return objectdb.DecodeDirNode(data)
}

func (c *HTTPClient) GetBranch(ctx context.Context, name string) (hash.Hash, error) {
	var out branchDTO
	_, err := c.do(ctx, http.MethodGet, "/sync/branches/"+name, nil, &out)
	if err != nil {
		return hash.Zero, err
	}
	return hash.Parse(out.CommitID)
}

func (c *HTTPClient) AdvanceBranch(ctx context.Context, name string, to, expectedPrevious hash.Hash) error {
	body, err := json.Marshal(advanceBranchRequest{To: to.String(), ExpectedPrevious: expectedPrevious.String()})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, "/sync/branches/"+name, bytes.NewReader(body), nil)
	return err
}
