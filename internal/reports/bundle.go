package reports

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/decision-cli/internal/snapshot"
)

// categoryDirs maps index categories to bundle directories under the
// reports root. Analysis runs live in the store and have no bundles.
var categoryDirs = map[string]string{
	CategoryMeasurement: "measurement",
	CategoryBurnIn:      "burn_in",
	CategoryActivation:  "activation",
	CategoryGraduation:  "graduation",
}

// BundleDir returns the directory holding category bundles, or "" for
// categories without on-disk bundles.
func BundleDir(root, category string) string {
	sub, ok := categoryDirs[category]
	if !ok {
		return ""
	}
	return filepath.Join(root, sub)
}

// Bundle is one run's report directory. Artifacts are written as
// stable JSON so reruns over the same inputs produce identical bytes.
type Bundle struct {
	dir string
}

// NewBundle creates the bundle directory if needed.
func NewBundle(dir string) (*Bundle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "reports: create bundle dir")
	}
	return &Bundle{dir: dir}, nil
}

// Dir returns the bundle directory.
func (b *Bundle) Dir() string { return b.dir }

// Path returns the path of an artifact inside the bundle.
func (b *Bundle) Path(name string) string { return filepath.Join(b.dir, name) }

// WriteJSON writes v as a stable JSON artifact.
func (b *Bundle) WriteJSON(name string, v any) error {
	data, err := stableJSON(v)
	if err != nil {
		return eris.Wrapf(err, "reports: render %s", name)
	}
	return b.WriteFile(name, data)
}

// WriteFile writes a raw artifact such as a CSV export.
func (b *Bundle) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(b.Path(name), data, 0o644); err != nil {
		return eris.Wrapf(err, "reports: write %s", name)
	}
	return nil
}

// stableJSON renders v with sorted keys and two-space indentation.
// Key ordering comes from the snapshot codec, so artifact bytes are
// deterministic for a given value.
func stableJSON(v any) ([]byte, error) {
	canonical, err := snapshot.CanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, eris.Wrap(err, "reports: indent artifact")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
