package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// OpenerOptions configures an Opener. Nil fetchers get defaults.
type OpenerOptions struct {
	TempDir string
	HTTP    Fetcher
	FTP     Fetcher
}

// Opener turns a source reference into a row stream. A reference is a local
// .csv or .xlsx path, an http(s):// or ftp:// URL to one, or a .zip that
// holds exactly one such file.
type Opener struct {
	tempDir string
	http    Fetcher
	ftp     Fetcher
}

// NewOpener creates an Opener.
func NewOpener(opts OpenerOptions) *Opener {
	o := &Opener{tempDir: opts.TempDir, http: opts.HTTP, ftp: opts.FTP}
	if o.tempDir == "" {
		o.tempDir = os.TempDir()
	}
	if o.http == nil {
		o.http = NewHTTPFetcher(HTTPOptions{})
	}
	if o.ftp == nil {
		o.ftp = NewFTPFetcher(FTPOptions{})
	}
	return o
}

// Rows streams the records of an opened source in file order.
type Rows struct {
	// Header is the first record when the source was opened with a header.
	Header []string
	// Path is the local file being read.
	Path string
	// C delivers the data records.
	C <-chan []string

	errc    <-chan error
	cancel  context.CancelFunc
	closers []io.Closer
	temps   []string

	errOnce   sync.Once
	err       error
	closeOnce sync.Once
}

// Err returns the error that ended the stream, if any. Call it once C is
// drained.
func (r *Rows) Err() error {
	r.errOnce.Do(func() { r.err = <-r.errc })
	return r.err
}

// Close stops the stream and removes any downloaded or extracted files.
func (r *Rows) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		for range r.C { //nolint:revive // drain so the reader goroutine exits
		}
		for _, c := range r.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = eris.Wrap(cerr, "fetcher: close source")
			}
		}
		for _, dir := range r.temps {
			if rerr := os.RemoveAll(dir); rerr != nil {
				zap.L().Warn("fetcher: remove temp dir", zap.String("dir", dir), zap.Error(rerr))
			}
		}
	})
	return err
}

// Open resolves ref and starts streaming it. With hasHeader the first record
// is read into Rows.Header; an empty source is then an error.
func (o *Opener) Open(ctx context.Context, ref string, hasHeader bool) (*Rows, error) {
	localPath, temps, err := o.resolve(ctx, ref)
	if err != nil {
		removeAll(temps)
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	rows := &Rows{Path: localPath, cancel: cancel, temps: temps}

	var rowCh <-chan []string
	var errCh <-chan error
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".xlsx":
		rowCh, errCh = StreamXLSX(streamCtx, localPath, XLSXOptions{TrimSpace: true, PadToFirst: hasHeader})
	case ".csv", ".txt", "":
		f, err := os.Open(localPath)
		if err != nil {
			cancel()
			removeAll(temps)
			return nil, eris.Wrapf(err, "fetcher: open %s", localPath)
		}
		rows.closers = append(rows.closers, f)
		rowCh, errCh = StreamCSV(streamCtx, f, CSVOptions{TrimSpace: true})
	default:
		cancel()
		removeAll(temps)
		return nil, eris.Errorf("fetcher: unsupported source type %q", filepath.Ext(localPath))
	}
	rows.C, rows.errc = rowCh, errCh

	if hasHeader {
		header, ok := <-rowCh
		if !ok {
			err := rows.Err()
			rows.Close() //nolint:errcheck
			if err != nil {
				return nil, eris.Wrapf(err, "fetcher: read header of %s", ref)
			}
			return nil, eris.Errorf("fetcher: %s is empty", ref)
		}
		rows.Header = header
	}

	zap.L().Debug("fetcher: source opened", zap.String("ref", ref), zap.String("path", localPath))
	return rows, nil
}

// resolve returns the local file to read plus any temp dirs it created.
func (o *Opener) resolve(ctx context.Context, ref string) (string, []string, error) {
	var temps []string
	local := ref

	var dl Fetcher
	switch lower := strings.ToLower(ref); {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		dl = o.http
	case strings.HasPrefix(lower, "ftp://"):
		dl = o.ftp
	}

	if dl != nil {
		dir, err := o.mkTemp("download-*")
		if err != nil {
			return "", temps, err
		}
		temps = append(temps, dir)
		local = filepath.Join(dir, remoteName(ref))
		n, err := dl.DownloadToFile(ctx, ref, local)
		if err != nil {
			return "", temps, eris.Wrapf(err, "fetcher: download %s", ref)
		}
		zap.L().Info("fetcher: downloaded source", zap.String("url", ref), zap.Int64("bytes", n))
	}

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		dir, err := o.mkTemp("unzip-*")
		if err != nil {
			return "", temps, err
		}
		temps = append(temps, dir)
		extracted, err := ExtractZIPSingle(local, dir)
		if err != nil {
			return "", temps, eris.Wrapf(err, "fetcher: extract %s", ref)
		}
		local = extracted
	}

	return local, temps, nil
}

func (o *Opener) mkTemp(pattern string) (string, error) {
	if err := os.MkdirAll(o.tempDir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create temp dir")
	}
	dir, err := os.MkdirTemp(o.tempDir, pattern)
	return dir, eris.Wrap(err, "fetcher: create temp dir")
}

// remoteName is the file name to save a download under, keeping its
// extension so the reader can be chosen.
func remoteName(ref string) string {
	u, err := url.Parse(ref)
	if err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "download.csv"
}

func removeAll(dirs []string) {
	for _, d := range dirs {
		os.RemoveAll(d) //nolint:errcheck
	}
}
