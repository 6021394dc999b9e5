package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher. Empty credentials mean an
// anonymous login, which is what the public feed mirrors expect.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
}

func (o FTPOptions) withDefaults() FTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.User == "" {
		o.User = "anonymous"
		o.Password = "anonymous@"
	}
	return o
}

// FTPFetcher downloads feed files from FTP mirrors.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher builds an FTP fetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	return &FTPFetcher{opts: opts.withDefaults()}
}

// splitFTPURL returns the dial address (host with port) and remote path
// of an ftp:// URL.
func splitFTPURL(rawURL string) (addr string, remote string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "fetcher: parse ftp url %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return "", "", eris.Errorf("fetcher: ftp url %s has no path", rawURL)
	}

	addr = u.Host
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return addr, u.Path, nil
}

// ftpBody ties the data stream to its control connection so that
// closing the body also quits the session.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) { return b.resp.Read(p) }

func (b *ftpBody) Close() error {
	respErr := b.resp.Close()
	quitErr := b.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp session")
	}
	return nil
}

// Download opens an FTP session, logs in and starts retrieving the
// file. The caller must close the returned reader to end the session.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	addr, remote, err := splitFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetcher: ftp connect",
		zap.String("addr", addr),
		zap.String("path", remote),
	)

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", addr)
	}

	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp login to %s", addr)
	}

	resp, err := conn.Retr(remote)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", remote)
	}

	return &ftpBody{resp: resp, conn: conn}, nil
}

// DownloadToFile fetches the FTP URL into a local file.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return saveTo(path, body)
}
