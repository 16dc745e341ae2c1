package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/repo"
	"github.com/siltdata/silt/pkg/silterrors"
)

// repoFromRequest resolves the <ns>/<repo> path segments chi already
// parsed into a named Repository, the lookup every resource handler
// in this file starts with.
func (a *api) repoFromRequest(r *http.Request) (*repo.Repository, error) {
	ns := chi.URLParam(r, "ns")
	name := chi.URLParam(r, "repo")
	return a.registry.Open(ns, name)
}

// getCommit implements GET .../commits/<id>.
func (a *api) getCommit(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := hash.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	c, err := rp.GetCommit(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitDTO(c))
}

// getCommitHistory implements GET .../commits/<id>/history, with
// simple offset/limit pagination (spec.md §6 "paginated ancestor
// list") via ?offset=&limit= query parameters.
func (a *api) getCommitHistory(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := hash.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	history, err := rp.CommitHistory(id)
	if err != nil {
		writeError(w, err)
		return
	}

	offset, limit := paginationParams(r, len(history))
	page := history[offset:limit]

	dtos := make([]commitDTO, len(page))
	for i, c := range page {
		dtos[i] = toCommitDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func paginationParams(r *http.Request, total int) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 || offset > total {
		offset = 0
	}
	limit = total
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n >= 0 && offset+n < total {
		limit = offset + n
	}
	return offset, limit
}

// listBranches implements GET .../branches.
func (a *api) listBranches(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	names, err := rp.ListBranches()
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]branchDTO, 0, len(names))
	for _, name := range names {
		tip, err := rp.ResolveRef(name)
		if err != nil {
			writeError(w, err)
			return
		}
		dtos = append(dtos, branchDTO{Name: name, CommitID: tip.String()})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// createBranch implements POST .../branches.
func (a *api) createBranch(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if err := rp.CreateBranchFrom(req.Name, req.From); err != nil {
		writeError(w, err)
		return
	}
	tip, err := rp.ResolveRef(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branchDTO{Name: req.Name, CommitID: tip.String()})
}

// getTree implements GET .../tree/<commit>/<path>.
func (a *api) getTree(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	commitID, err := hash.Parse(chi.URLParam(r, "commit"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	path := chi.URLParam(r, "*")

	entries, file, isDir, err := rp.GetTreeNode(commitID, path)
	if err != nil {
		writeError(w, err)
		return
	}
	if isDir {
		writeJSON(w, http.StatusOK, treeNodeDTO{IsDir: true, Entries: toTreeEntryDTOs(entries)})
		return
	}
	writeJSON(w, http.StatusOK, treeNodeDTO{IsDir: false, FileNode: toFileNodeDTO(file)})
}

// getFile implements GET .../file/<branch_or_commit>/<path>.
func (a *api) getFile(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	commitID, err := rp.ResolveRef(chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	path := chi.URLParam(r, "*")

	data, f, err := rp.GetFileBytes(commitID, path)
	if err != nil {
		writeError(w, err)
		return
	}
	if f.MimeType != "" {
		w.Header().Set("Content-Type", f.MimeType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// putFile implements PUT .../file/<branch>/<dir_path>: an implicit
// commit onto branch with no workspace involved (spec.md §6). Accepts
// both multipart/form-data (first file part) and a raw body, per
// SPEC_FULL.md §7.
func (a *api) putFile(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	branch := chi.URLParam(r, "branch")
	path := chi.URLParam(r, "*")

	data, err := readUploadBody(r)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	meta := metaFromRequest(r.URL.Query().Get("message"), r.Header.Get("X-Silt-Author"), r.Header.Get("X-Silt-Email"))

	id, err := rp.CommitFile(r.Context(), branch, path, data, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResultDTO{CommitID: id.String()})
}

// readUploadBody extracts the uploaded bytes from either a raw body
// or the first part of a multipart/form-data request.
func readUploadBody(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			return nil, err
		}
		for _, files := range r.MultipartForm.File {
			if len(files) == 0 {
				continue
			}
			f, err := files[0].Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return io.ReadAll(f)
		}
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// deleteFile implements DELETE .../file/<branch>/<path>, requiring the
// oxen-based-on header (spec.md §6).
func (a *api) deleteFile(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	branch := chi.URLParam(r, "branch")
	path := chi.URLParam(r, "*")

	basedOnHeader := r.Header.Get("oxen-based-on")
	if basedOnHeader == "" {
		writeError(w, badRequest(errors.New("missing required oxen-based-on header")))
		return
	}
	basedOn, err := hash.Parse(basedOnHeader)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	meta := metaFromRequest(r.URL.Query().Get("message"), r.Header.Get("X-Silt-Author"), r.Header.Get("X-Silt-Email"))
	id, err := rp.DeleteFile(r.Context(), branch, path, basedOn, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResultDTO{CommitID: id.String()})
}

// getMergeability implements GET .../merge/<base>..<head>.
func (a *api) getMergeability(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	base := chi.URLParam(r, "base")
	head := chi.URLParam(r, "head")

	result, err := rp.Mergeability(base, head)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMergeabilityDTO(result))
}

// badRequest wraps err as silterrors.ErrInvalid so writeError maps it
// to 422, for request-parsing failures that never reach Repository.
func badRequest(err error) error {
	return fmt.Errorf("%w: %v", silterrors.ErrInvalid, err)
}
