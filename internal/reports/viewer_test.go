package reports

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardedOK(token string) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return TokenGuard(token)(next)
}

func TestTokenGuard_OpenWhenUnset(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/index", nil)

	guardedOK("").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTokenGuard_RejectsMissingToken(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/index", nil)

	guardedOK("s3cret").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenGuard_RejectsWrongToken(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/index", nil)
	req.Header.Set(TokenHeader, "wrong")

	guardedOK("s3cret").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenGuard_AcceptsMatchingToken(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/index", nil)
	req.Header.Set(TokenHeader, "s3cret")

	guardedOK("s3cret").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServeIndex_EmptyWhenMissing(t *testing.T) {
	v := NewViewer(t.TempDir())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/index", nil)

	v.ServeIndex(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "\"runs\": []")
}

func TestServeIndex_ReflectsSavedRuns(t *testing.T) {
	root := t.TempDir()
	var idx Index
	require.NoError(t, idx.Append(CategoryMeasurement, "measure-7"))
	require.NoError(t, SaveIndex(root, idx))

	v := NewViewer(root)
	rec := httptest.NewRecorder()
	v.ServeIndex(rec, httptest.NewRequest(http.MethodGet, "/reports/index", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "measure-7")
	assert.Contains(t, rec.Body.String(), "\"latest_measurement_run_id\": \"measure-7\"")
}

func TestServeArtifact_ServesJSON(t *testing.T) {
	root := t.TempDir()
	b, err := NewBundle(filepath.Join(BundleDir(root, CategoryMeasurement), "measure-1"))
	require.NoError(t, err)
	require.NoError(t, b.WriteJSON("summary.json", map[string]string{"status": "ok"}))

	v := NewViewer(root)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/measurement/measure-1/summary.json", nil)

	v.ServeArtifact(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\n  \"status\": \"ok\"\n}\n", rec.Body.String())
}

func TestServeArtifact_CSVContentType(t *testing.T) {
	root := t.TempDir()
	b, err := NewBundle(filepath.Join(BundleDir(root, CategoryMeasurement), "measure-1"))
	require.NoError(t, err)
	require.NoError(t, b.WriteFile("shadow.csv", []byte("a,b\n")))

	v := NewViewer(root)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/measurement/measure-1/shadow.csv", nil)

	v.ServeArtifact(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestServeArtifact_MissingFile(t *testing.T) {
	v := NewViewer(t.TempDir())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/measurement/nope/summary.json", nil)

	v.ServeArtifact(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeArtifact_TraversalRejected(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, SaveIndex(root, Index{}))
	v := NewViewer(root)

	for _, target := range []string{
		"/reports/../index.json",
		"/reports/measurement/../../../etc/passwd",
		"/reports/..",
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		v.ServeArtifact(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "target %s", target)
	}
}

func TestServeArtifact_DirectoryRejected(t *testing.T) {
	root := t.TempDir()
	_, err := NewBundle(filepath.Join(BundleDir(root, CategoryMeasurement), "measure-1"))
	require.NoError(t, err)

	v := NewViewer(root)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/measurement/measure-1", nil)

	v.ServeArtifact(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeArtifact_EmptyPath(t *testing.T) {
	v := NewViewer(t.TempDir())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/", nil)

	v.ServeArtifact(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
