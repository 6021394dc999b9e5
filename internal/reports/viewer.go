package reports

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// TokenHeader carries the shared viewer secret.
const TokenHeader = "X-Reports-Token"

// TokenGuard returns middleware that enforces the shared reports
// token. An empty token leaves the surface open.
func TokenGuard(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get(TokenHeader) != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Viewer serves the reports index and artifact files over HTTP.
type Viewer struct {
	root string
}

// NewViewer creates a viewer rooted at the reports directory.
func NewViewer(root string) *Viewer {
	return &Viewer{root: root}
}

// ServeIndex writes the current index as stable JSON.
func (v *Viewer) ServeIndex(w http.ResponseWriter, _ *http.Request) {
	idx := LoadIndex(v.root)
	data, err := stableJSON(&idx)
	if err != nil {
		zap.L().Error("reports: render index", zap.Error(err))
		http.Error(w, "render index failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// ServeArtifact handles requests at /reports/{category}/{run_id}/{file}.
// Paths that escape the reports root return 404.
func (v *Viewer) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/reports/")
	if rel == "" || containsDotDot(rel) {
		http.NotFound(w, r)
		return
	}

	fp := filepath.Join(v.root, filepath.FromSlash(path.Clean("/"+rel)))
	info, err := os.Stat(fp)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(fp)
	if err != nil {
		zap.L().Error("reports: read artifact", zap.String("path", rel), zap.Error(err))
		http.Error(w, "read artifact failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(fp))
	_, _ = w.Write(data)
}

func containsDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// contentTypeFor returns the MIME type for a report artifact.
func contentTypeFor(p string) string {
	switch filepath.Ext(p) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
