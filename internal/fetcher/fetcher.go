// Package fetcher resolves register sources (local files, HTTP(S) and FTP
// URLs, single-file ZIP archives) and streams their rows from CSV or XLSX.
package fetcher

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// writeFile copies body to a new file at path.
func writeFile(path string, body io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(out, body)
	if err != nil {
		out.Close() //nolint:errcheck
		return n, eris.Wrap(err, "write file")
	}
	return n, eris.Wrap(out.Close(), "close file")
}
