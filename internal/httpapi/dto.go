package httpapi

import (
	"fmt"

	"github.com/siltdata/silt/pkg/commit"
	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merge"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/objectdb"
)

// commitDTO is the wire form of a commit record (spec.md §6 "Commit
// record wire form").
type commitDTO struct {
	ID        string   `json:"id"`
	ParentIDs []string `json:"parent_ids"`
	Message   string   `json:"message"`
	Author    string   `json:"author"`
	Email     string   `json:"email"`
	Timestamp string   `json:"timestamp"`
	RootHash  string   `json:"root_hash"`
}

func toCommitDTO(c commitlog.Commit) commitDTO {
	parents := make([]string, len(c.ParentIDs))
	for i, p := range c.ParentIDs {
		parents[i] = p.String()
	}
	return commitDTO{
		ID:        c.ID.String(),
		ParentIDs: parents,
		Message:   c.Message,
		Author:    c.Author,
		Email:     c.Email,
		Timestamp: c.Timestamp,
		RootHash:  c.RootHash.String(),
	}
}

// fromCommitDTO reverses toCommitDTO, for the sync API's PutCommit
// resource where a peer hands back a full commit record to store
// verbatim rather than deriving one from request fields.
func fromCommitDTO(dto commitDTO) (commitlog.Commit, error) {
	id, err := hash.Parse(dto.ID)
	if err != nil {
		return commitlog.Commit{}, fmt.Errorf("parsing id: %w", err)
	}
	root, err := hash.Parse(dto.RootHash)
	if err != nil {
		return commitlog.Commit{}, fmt.Errorf("parsing root_hash: %w", err)
	}
	parents := make([]hash.Hash, len(dto.ParentIDs))
	for i, p := range dto.ParentIDs {
		h, err := hash.Parse(p)
		if err != nil {
			return commitlog.Commit{}, fmt.Errorf("parsing parent_ids[%d]: %w", i, err)
		}
		parents[i] = h
	}
	return commitlog.Commit{
		ID:        id,
		ParentIDs: parents,
		Message:   dto.Message,
		Author:    dto.Author,
		Email:     dto.Email,
		Timestamp: dto.Timestamp,
		RootHash:  root,
	}, nil
}

// metaFromRequest builds commit.Meta from the author fields an HTTP
// request carries alongside a PUT file / workspace commit body.
func metaFromRequest(message, author, email string) commit.Meta {
	return commit.Meta{Message: message, Author: author, Email: email}
}

// branchDTO is the wire form of a branch (spec.md §6 "Branch wire form").
type branchDTO struct {
	Name     string `json:"name"`
	CommitID string `json:"commit_id"`
}

// createBranchRequest is the POST /branches body.
type createBranchRequest struct {
	Name string `json:"name"`
	From string `json:"from"`
}

// treeEntryDTO is one child of a directory listing.
type treeEntryDTO struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Hash  string `json:"hash"`
}

// treeNodeDTO is the response to GET .../tree/<commit>/<path>.
type treeNodeDTO struct {
	IsDir    bool           `json:"is_dir"`
	Entries  []treeEntryDTO `json:"entries,omitempty"`
	FileNode *fileNodeDTO   `json:"file,omitempty"`
}

type fileNodeDTO struct {
	Name      string `json:"name"`
	Hash      string `json:"hash"`
	NumBytes  uint64 `json:"num_bytes"`
	DataType  string `json:"data_type"`
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension"`
}

func toFileNodeDTO(f objectdb.FileNode) *fileNodeDTO {
	return &fileNodeDTO{
		Name:      f.Name,
		Hash:      f.Hash.String(),
		NumBytes:  f.NumBytes,
		DataType:  f.DataType,
		MimeType:  f.MimeType,
		Extension: f.Extension,
	}
}

func toTreeEntryDTOs(entries []merkle.Entry) []treeEntryDTO {
	out := make([]treeEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = treeEntryDTO{Path: e.Path, IsDir: e.IsDir, Hash: e.Hash.String()}
	}
	return out
}

// workspaceCreateRequest is the POST /workspaces body.
type workspaceCreateRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Branch      string `json:"branch"`
	IsEditable  bool   `json:"is_editable"`
}

// workspaceDTO is the response to POST /workspaces.
type workspaceDTO struct {
	WorkspaceID string `json:"workspace_id"`
	BaseCommit  string `json:"base_commit"`
	Editable    bool   `json:"is_editable"`
}

// rowRequest is the body of the data-frame row endpoints.
type rowRequest struct {
	Values []string `json:"values"`
}

// rowResponse is the response to a row mutation.
type rowResponse struct {
	RowID string `json:"row_id"`
}

// commitRequest is the POST body for both the implicit PUT-file commit
// and the workspace commit endpoint.
type commitRequest struct {
	Message string `json:"message"`
	Author  string `json:"author"`
	Email   string `json:"email"`
	Branch  string `json:"branch"`
}

// commitResultDTO names the resulting commit id.
type commitResultDTO struct {
	CommitID string `json:"commit_id"`
}

// mergeabilityDTO is the response to GET .../merge/<base>..<head>.
type mergeabilityDTO struct {
	NoOp        bool          `json:"no_op"`
	FastForward bool          `json:"fast_forward"`
	Mergeable   bool          `json:"mergeable"`
	Conflicts   []conflictDTO `json:"conflicts,omitempty"`
}

type conflictDTO struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func toMergeabilityDTO(r *merge.Result) mergeabilityDTO {
	dto := mergeabilityDTO{
		NoOp:        r.NoOp,
		FastForward: r.FastForward,
		Mergeable:   len(r.Conflicts) == 0,
	}
	for _, c := range r.Conflicts {
		dto.Conflicts = append(dto.Conflicts, conflictDTO{Path: c.Path, Reason: c.Reason})
	}
	return dto
}
