package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// api holds the dependencies every handler in this package closes
// over. It is deliberately unexported: NewRouter is the only
// constructor a caller (cmd/siltd) needs.
type api struct {
	registry *Registry
	log      *zap.Logger
}

// NewRouter builds the chi.Router serving every resource spec.md §6
// names against repositories opened through registry, plus the
// sync subtree (sync.go) internal/httpapi adds to carry the Transfer
// Protocol primitives spec.md's resource list doesn't itself name.
func NewRouter(registry *Registry, logger *zap.Logger) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{registry: registry, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Route("/api/repos/{ns}/{repo}", func(r chi.Router) {
		r.Get("/commits/{id}", a.getCommit)
		r.Get("/commits/{id}/history", a.getCommitHistory)

		r.Get("/branches", a.listBranches)
		r.Post("/branches", a.createBranch)

		r.Get("/tree/{commit}/*", a.getTree)

		r.Get("/file/{ref}/*", a.getFile)
		r.Put("/file/{branch}/*", a.putFile)
		r.Delete("/file/{branch}/*", a.deleteFile)

		r.Post("/workspaces", a.createWorkspace)
		r.Route("/workspaces/{wsid}", func(r chi.Router) {
			r.Post("/files/*", a.uploadWorkspaceFile)
			r.Post("/data_frames/*", a.addRow)
			r.Put("/data_frames/*", a.updateRow)
			r.Delete("/data_frames/*", a.deleteRow)
			r.Post("/commit", a.commitWorkspace)
		})

		r.Get("/merge/{base}..{head}", a.getMergeability)

		r.Post("/tree/nodes", a.putNode)
		r.Route("/sync", func(r chi.Router) {
			r.Get("/nodes/{kind}/{hash}", a.hasOrGetNode)
			r.Get("/blobs/{hash}", a.getBlob)
			r.Put("/blobs/{hash}", a.putBlob)
			r.Get("/blobs/{hash}/missing", a.listMissingBlobs)
			r.Get("/commits/{id}", a.getSyncCommit)
			r.Put("/commits/{id}", a.putSyncCommit)
			r.Get("/tree/{commit}", a.getSyncTree)
			r.Get("/branches/{name}", a.getSyncBranch)
			r.Put("/branches/{name}", a.advanceSyncBranch)
		})
	})

	return r
}

// requestLogger logs each request at Info, the way the teacher's own
// server command wraps its mux (cmd/store-server).
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Info("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
