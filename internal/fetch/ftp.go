package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

// FTPOptions configures the FTP mirror fetcher. Empty credentials mean
// anonymous login.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
}

// FTPFetcher pulls documents from an FTP mirror of a disclosure dataset.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, p string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetch: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetch: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	p = u.Path
	if p == "" {
		return "", "", eris.New("fetch: empty path in ftp url")
	}

	return host, p, nil
}

func (f *FTPFetcher) dial(ctx context.Context, host string) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp dial")
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "fetch: ftp login")
	}
	return conn, nil
}

// ListDocuments walks the mirror directory tree rooted at rootURL and returns
// ftp:// URLs for every entry with a document extension, sorted.
func (f *FTPFetcher) ListDocuments(ctx context.Context, rootURL string) ([]string, error) {
	host, root, err := parseFTPURL(rootURL)
	if err != nil {
		return nil, err
	}

	conn, err := f.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	var docs []string
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := conn.List(dir)
		if err != nil {
			return eris.Wrapf(err, "fetch: ftp list %s", dir)
		}
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			full := path.Join(dir, e.Name)
			switch e.Type {
			case ftp.EntryTypeFolder:
				if err := walk(full); err != nil {
					return err
				}
			case ftp.EntryTypeFile:
				lower := strings.ToLower(e.Name)
				for _, ext := range urlutil.DownloadExts {
					if strings.HasSuffix(lower, ext) {
						docs = append(docs, "ftp://"+strings.TrimSuffix(host, ":21")+full)
						break
					}
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}

	sort.Strings(docs)
	zap.L().Info("ftp mirror listed", zap.String("root", rootURL), zap.Int("documents", len(docs)))
	return docs, nil
}

// ftpConnReader ties the response stream to its connection so closing the
// reader also disconnects.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetch: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetch: quit ftp connection")
	}
	return nil
}

// Fetch retrieves one mirror file as a stream. The caller must close the
// returned ReadCloser to release the connection.
func (f *FTPFetcher) Fetch(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, p, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp fetch", zap.String("host", host), zap.String("path", p))

	conn, err := f.dial(ctx, host)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(p)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "fetch: ftp retrieve")
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// FetchToFile downloads the mirror file to localPath, hashing as it writes.
// Returns bytes written and the hex SHA-256 so mirror ingest shares the
// content-dedup path with HTTP downloads.
func (f *FTPFetcher) FetchToFile(ctx context.Context, ftpURL, localPath string) (int64, string, error) {
	rc, err := f.Fetch(ctx, ftpURL)
	if err != nil {
		return 0, "", err
	}
	defer rc.Close()

	if err := os.MkdirAll(path.Dir(localPath), 0o755); err != nil {
		return 0, "", eris.Wrap(err, "fetch: create mirror dir")
	}
	file, err := os.Create(localPath)
	if err != nil {
		return 0, "", eris.Wrap(err, "fetch: create file")
	}
	defer file.Close()

	digest := sha256.New()
	n, err := io.Copy(io.MultiWriter(file, digest), rc)
	if err != nil {
		return n, "", eris.Wrap(err, "fetch: write file")
	}

	return n, hex.EncodeToString(digest.Sum(nil)), nil
}
