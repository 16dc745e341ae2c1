// Package workspace implements the Workspace (spec.md §4.9, C9): a
// named, isolated staging overlay on a specific base commit that can
// be populated and committed without a working copy — the primitive
// the HTTP data-frame and file-upload resources build on.
//
// It has no teacher analogue (the teacher has no network workspace
// concept); it is built in the teacher's error/CAS idiom on top of
// pkg/staging, following spec.md §4.9's editable/non-editable and
// rebase-replay semantics.
package workspace

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
	"github.com/siltdata/silt/pkg/silterrors"
	"github.com/siltdata/silt/pkg/staging"
	"github.com/siltdata/silt/pkg/tabular"
)

// Workspace is a Staging Area plus scratch directory plus base commit
// pointer, identified by a client-chosen string (spec.md §4.9).
type Workspace struct {
	mu sync.Mutex

	ID         string
	BaseCommit hash.Hash
	Editable   bool

	dir     string
	staging *staging.Area

	tabular tabular.Engine
	tables  map[string]tabular.TableID // path -> indexed table id
	schemas map[string]tabular.Schema
}

// Manager tracks workspaces rooted under a single root directory (e.g.
// "workspaces" inside the repository's hidden directory), enforcing
// "at most one non-editable workspace per base commit".
type Manager struct {
	mu   sync.Mutex
	root string
	open map[string]*Workspace
}

// NewManager opens a Manager rooted at root (created if missing).
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating workspaces root: %v", silterrors.ErrIO, err)
	}
	return &Manager{root: root, open: map[string]*Workspace{}}, nil
}

// scratchDirName hashes id so that arbitrary client-chosen workspace
// ids (which may contain slashes or other filesystem-unsafe
// characters) always map to a safe directory name.
func scratchDirName(id string) string {
	h := hash.Sum([]byte(id))
	return hex.EncodeToString(h.Bytes())
}

// Create opens (creating on first use) the workspace named id against
// baseCommit. Reopening an existing id returns its existing state;
// baseCommit is only honored on first creation.
func (m *Manager) Create(id string, baseCommit hash.Hash, editable bool) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.open[id]; ok {
		return ws, nil
	}

	if !editable {
		for _, ws := range m.open {
			if !ws.Editable && ws.BaseCommit == baseCommit {
				return nil, fmt.Errorf("%w: non-editable workspace already exists for base commit %s", silterrors.ErrAlreadyExists, baseCommit)
			}
		}
	}

	dir := filepath.Join(m.root, scratchDirName(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating workspace scratch dir: %v", silterrors.ErrIO, err)
	}

	area, err := staging.Open(filepath.Join(dir, "staged"))
	if err != nil {
		return nil, err
	}
	engine, err := tabular.NewCSVEngine(filepath.Join(dir, "tabular"))
	if err != nil {
		area.Close()
		return nil, err
	}

	ws := &Workspace{
		ID:         id,
		BaseCommit: baseCommit,
		Editable:   editable,
		dir:        dir,
		staging:    area,
		tabular:    engine,
		tables:     map[string]tabular.TableID{},
		schemas:    map[string]tabular.Schema{},
	}
	m.open[id] = ws
	return ws, nil
}

// Get returns a previously-created workspace by id.
func (m *Manager) Get(id string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.open[id]
	return ws, ok
}

// Delete closes and discards the workspace's scratch state.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.open[id]
	if !ok {
		return nil
	}
	ws.mu.Lock()
	ws.staging.Close()
	ws.tabular.Close()
	ws.mu.Unlock()

	delete(m.open, id)
	return os.RemoveAll(ws.dir)
}

// Staging returns the workspace's own independent staging area.
func (w *Workspace) Staging() *staging.Area { return w.staging }

func (w *Workspace) requireEditable() error {
	if !w.Editable {
		return fmt.Errorf("%w: workspace %s is read-only", silterrors.ErrInvalid, w.ID)
	}
	return nil
}

// IndexTable imports path's current bytes into a row-addressable
// table, idempotently: calling Index twice for the same path is a
// no-op returning the existing table.
func (w *Workspace) IndexTable(path string, data []byte) (tabular.TableID, tabular.Schema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireEditable(); err != nil {
		return "", tabular.Schema{}, err
	}
	if id, ok := w.tables[path]; ok {
		return id, w.schemas[path], nil
	}

	id, schema, err := w.tabular.Import(path, data)
	if err != nil {
		return "", tabular.Schema{}, err
	}
	w.tables[path] = id
	w.schemas[path] = schema
	return id, schema, nil
}

// TableFor returns the table id previously assigned to path by IndexTable.
func (w *Workspace) TableFor(path string) (tabular.TableID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.tables[path]
	return id, ok
}

// ApplyRow performs one row mutation against path's indexed table.
func (w *Workspace) ApplyRow(path string, op tabular.RowOp) (string, error) {
	w.mu.Lock()
	id, ok := w.tables[path]
	w.mu.Unlock()

	if err := w.requireEditable(); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s has not been indexed in this workspace", silterrors.ErrInvalid, path)
	}
	return w.tabular.Apply(id, op)
}

// GetRow returns one row's current values from path's indexed table.
func (w *Workspace) GetRow(path, rowID string) ([]string, error) {
	w.mu.Lock()
	id, ok := w.tables[path]
	w.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s has not been indexed in this workspace", silterrors.ErrInvalid, path)
	}
	return w.tabular.GetRow(id, rowID)
}

// ExportTable serializes path's indexed table back to its native
// format and stages it as Modified — step 3 of spec.md §4.9's
// row-editing flow, called once per indexed path before commit.
func (w *Workspace) ExportTable(path string) ([]byte, error) {
	w.mu.Lock()
	id, ok := w.tables[path]
	w.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s has not been indexed in this workspace", silterrors.ErrInvalid, path)
	}
	data, err := w.tabular.Export(id)
	if err != nil {
		return nil, err
	}

	h := hash.Sum(data)
	if err := w.staging.Stage(staging.Entry{
		Path:     path,
		Status:   merkle.Modified,
		Hash:     h,
		NumBytes: int64(len(data)),
	}); err != nil {
		return nil, err
	}
	return data, nil
}

// StageFile records path (arbitrary, non-tabular bytes) as staged in
// the workspace's own staging area, and persists data under the
// workspace's scratch directory so Content can hand it back to the
// Commit Pipeline later without the uploader needing to resend it.
func (w *Workspace) StageFile(path string, data []byte, status merkle.ChangeStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireEditable(); err != nil {
		return err
	}
	if status != merkle.Removed {
		if err := writeScratchFile(w.dir, path, data); err != nil {
			return err
		}
	}
	return w.staging.Stage(staging.Entry{
		Path:     path,
		Status:   status,
		Hash:     hash.Sum(data),
		NumBytes: int64(len(data)),
	})
}

// Content resolves path's current bytes, satisfying
// commit.ContentProvider: a path previously indexed as a table is
// re-exported from its live rows, everything else is read back from
// the scratch directory StageFile wrote it to.
func (w *Workspace) Content(path string) ([]byte, error) {
	w.mu.Lock()
	_, isTable := w.tables[path]
	w.mu.Unlock()
	if isTable {
		return w.ExportTable(path)
	}
	return readScratchFile(w.dir, path)
}

// ExportAllTables re-exports and re-stages every table this workspace
// has indexed — step 3 of spec.md §4.9's row-editing flow run across
// the whole workspace at once, the preparation CommitWorkspace needs
// before snapshotting the staging area.
func (w *Workspace) ExportAllTables() error {
	w.mu.Lock()
	paths := make([]string, 0, len(w.tables))
	for path := range w.tables {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		if _, err := w.ExportTable(path); err != nil {
			return err
		}
	}
	return nil
}

func scratchFilePath(dir, path string) string {
	return filepath.Join(dir, "files", filepath.FromSlash(path))
}

func writeScratchFile(dir, path string, data []byte) error {
	full := scratchFilePath(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: creating scratch directory for %s: %v", silterrors.ErrIO, path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing scratch file for %s: %v", silterrors.ErrIO, path, err)
	}
	return nil
}

func readScratchFile(dir, path string) ([]byte, error) {
	data, err := os.ReadFile(scratchFilePath(dir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has not been staged in this workspace", silterrors.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading scratch file for %s: %v", silterrors.ErrIO, path, err)
	}
	return data, nil
}

// CanCommitOnto reports whether this workspace's base commit still
// matches branch B's current tip, per spec.md §4.9's constraint:
// "commit from workspace W onto branch B succeeds only if B.commit_id
// == W.base_commit_id". A mismatch means the workspace is behind and
// the caller must create a fresh workspace on the new tip and replay.
func (w *Workspace) CanCommitOnto(branchTip hash.Hash) bool {
	return w.BaseCommit == branchTip
}

// ErrBehind is returned by callers enforcing CanCommitOnto when a
// workspace's base commit has diverged from its target branch tip.
var ErrBehind = fmt.Errorf("%w: workspace is behind its target branch; rebase required", silterrors.ErrConflict)

// Rebase moves ws onto newBase in place, realizing spec.md §4.9's "the
// client must rebase (create a new workspace on the new tip and
// replay)" line: a workspace's staged entries and indexed tabular
// tables are already independent of its base pointer (they name
// absolute post-edit content, not a diff against BaseCommit), so
// nothing needs re-uploading or re-indexing — only the pointer
// CanCommitOnto compares against moves. Non-editable workspaces keep
// the Manager's "one per base commit" constraint enforced against the
// new base.
func (m *Manager) Rebase(ws *Workspace, newBase hash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ws.Editable {
		for id, other := range m.open {
			if id != ws.ID && !other.Editable && other.BaseCommit == newBase {
				return fmt.Errorf("%w: non-editable workspace already exists for base commit %s", silterrors.ErrAlreadyExists, newBase)
			}
		}
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.BaseCommit = newBase
	return nil
}
