package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/tabular"
	"github.com/siltdata/silt/pkg/workspace"
)

// rowsSuffix is appended to a data frame's path in the wildcard
// segment of the data_frames routes (spec.md §6's `<path>` can itself
// contain slashes, so it can't be a single named chi segment).
const rowsSuffix = "/rows"

// splitRowPath parses wildcard as either "<path>/rows" (the add-row
// resource) or "<path>/rows/<row_id>" (update/delete), returning ok
// false if wildcard doesn't end in the expected form.
func splitRowPath(wildcard string) (path, rowID string, ok bool) {
	idx := strings.Index(wildcard, rowsSuffix)
	if idx < 0 {
		return "", "", false
	}
	path = wildcard[:idx]
	rest := strings.TrimPrefix(wildcard[idx+len(rowsSuffix):], "/")
	return path, rest, true
}

// workspaceFromRequest resolves the repo and the workspace id chi
// parsed, failing with NotFound if the workspace hasn't been created.
func (a *api) workspaceFromRequest(r *http.Request) (*workspace.Workspace, error) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		return nil, err
	}
	id := chi.URLParam(r, "wsid")
	ws, ok := rp.Workspaces().Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: workspace %q", silterrors.ErrNotFound, id)
	}
	return ws, nil
}

// createWorkspace implements POST .../workspaces.
func (a *api) createWorkspace(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req workspaceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}

	base, err := rp.ResolveRef(req.Branch)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := rp.Workspaces().Create(req.WorkspaceID, base, req.IsEditable)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workspaceDTO{
		WorkspaceID: ws.ID,
		BaseCommit:  ws.BaseCommit.String(),
		Editable:    ws.Editable,
	})
}

// uploadWorkspaceFile implements POST .../workspaces/<id>/files/<dir>:
// dir names the destination directory, the uploaded file's own name is
// carried as a query parameter (?name=) since the spec leaves the
// upload encoding (multipart vs. raw) to the same convention as the
// plain file PUT resource.
func (a *api) uploadWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := a.workspaceFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	dir := chi.URLParam(r, "*")
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, badRequest(errors.New("missing required name query parameter")))
		return
	}
	path := name
	if dir != "" {
		path = dir + "/" + name
	}

	data, err := readUploadBody(r)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	status, changed := rp.ChangeStatusAt(ws.BaseCommit, path, data)
	if !changed {
		writeJSON(w, http.StatusOK, fileNodeDTO{Name: name})
		return
	}
	if err := ws.StageFile(path, data, status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fileNodeDTO{Name: name})
}

// addRow implements POST .../workspaces/<id>/data_frames/<path>/rows,
// lazily indexing path into the tabular engine from the workspace's
// base commit on first access (spec.md §4.9's "indexed on first row
// access" flow).
func (a *api) addRow(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := a.workspaceFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	path, _, ok := splitRowPath(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, badRequest(errors.New("path must end in /rows")))
		return
	}

	if _, ok := ws.TableFor(path); !ok {
		data, _, err := rp.GetFileBytes(ws.BaseCommit, path)
		if err != nil {
			writeError(w, err)
			return
		}
		if _, _, err := ws.IndexTable(path, data); err != nil {
			writeError(w, err)
			return
		}
	}

	var req rowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	rowID, err := ws.ApplyRow(path, tabular.RowOp{Kind: tabular.RowAdd, Values: req.Values})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rowResponse{RowID: rowID})
}

// updateRow implements PUT .../workspaces/<id>/data_frames/<path>/rows/<row_id>.
func (a *api) updateRow(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspaceFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	path, rowID, ok := splitRowPath(chi.URLParam(r, "*"))
	if !ok || rowID == "" {
		writeError(w, badRequest(errors.New("path must end in /rows/<row_id>")))
		return
	}

	var req rowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	newID, err := ws.ApplyRow(path, tabular.RowOp{Kind: tabular.RowUpdate, RowID: rowID, Values: req.Values})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rowResponse{RowID: newID})
}

// deleteRow implements DELETE .../workspaces/<id>/data_frames/<path>/rows/<row_id>.
func (a *api) deleteRow(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspaceFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	path, rowID, ok := splitRowPath(chi.URLParam(r, "*"))
	if !ok || rowID == "" {
		writeError(w, badRequest(errors.New("path must end in /rows/<row_id>")))
		return
	}

	if _, err := ws.ApplyRow(path, tabular.RowOp{Kind: tabular.RowDelete, RowID: rowID}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// commitWorkspace implements POST .../workspaces/<id>/commit.
func (a *api) commitWorkspace(w http.ResponseWriter, r *http.Request) {
	rp, err := a.repoFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := a.workspaceFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if req.Branch == "" {
		writeError(w, badRequest(errors.New("missing required branch field")))
		return
	}

	id, err := rp.CommitWorkspace(r.Context(), ws, req.Branch, metaFromRequest(req.Message, req.Author, req.Email))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResultDTO{CommitID: id.String()})
}
