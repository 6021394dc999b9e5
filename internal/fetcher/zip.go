package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP unpacks a season archive into destDir and returns the
// paths of the extracted files. Directory entries are created but not
// returned.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer archive.Close() //nolint:errcheck

	var extracted []string
	for _, entry := range archive.File {
		dest, err := entryDest(entry.Name, destDir)
		if err != nil {
			return extracted, err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return extracted, eris.Wrapf(err, "zip: create dir %s", dest)
			}
			continue
		}

		if err := unpackEntry(entry, dest); err != nil {
			return extracted, err
		}
		extracted = append(extracted, dest)
	}

	return extracted, nil
}

// entryDest resolves an archive entry name inside destDir, rejecting
// names that would escape it.
func entryDest(name, destDir string) (string, error) {
	dest := filepath.Join(destDir, name)

	rel, err := filepath.Rel(destDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: entry %q escapes the extraction dir", name)
	}
	return dest, nil
}

func unpackEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "zip: create parent dir for %s", dest)
	}

	src, err := entry.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open entry %s", entry.Name)
	}
	defer src.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "zip: create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, src); err != nil {
		return eris.Wrapf(err, "zip: write %s", dest)
	}
	return nil
}
