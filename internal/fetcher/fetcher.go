// Package fetcher pulls feed files over HTTP and FTP and parses the
// payload formats the importer accepts: JSON, CSV, XLSX and ZIP.
package fetcher

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote feed data. The HTTP and FTP implementations
// both satisfy it; the import layer picks one by URL scheme.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The
	// caller owns the returned reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into a local file and returns the
	// number of bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// saveTo streams r into a freshly created file at path.
func saveTo(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", path)
	}

	n, err := io.Copy(f, r)
	cerr := f.Close()
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	if cerr != nil {
		return n, eris.Wrapf(cerr, "fetcher: close %s", path)
	}
	return n, nil
}
