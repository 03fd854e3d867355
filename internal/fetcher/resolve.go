package fetcher

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Resolver turns an input reference (local path, http(s):// or ftp:// URL)
// into a readable local file. For ZIP archives the table member chosen by
// ExtractZIP is returned.
type Resolver struct {
	dir  string
	http Fetcher
	ftp  Fetcher
}

// NewResolver creates a Resolver that stores downloads under dir.
// A nil fetcher disables its scheme.
func NewResolver(dir string, httpFetcher, ftpFetcher Fetcher) *Resolver {
	return &Resolver{dir: dir, http: httpFetcher, ftp: ftpFetcher}
}

// Resolve returns a local path for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	path, err := r.localize(ctx, ref)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return r.unpack(path)
	}
	return path, nil
}

func (r *Resolver) localize(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a single-letter scheme is a Windows drive).
		if _, statErr := os.Stat(ref); statErr != nil {
			return "", eris.Wrapf(statErr, "resolve: input %s", ref)
		}
		return ref, nil
	}

	var f Fetcher
	switch u.Scheme {
	case "http", "https":
		f = r.http
	case "ftp":
		f = r.ftp
	case "file":
		return r.localize(ctx, u.Path)
	}
	if f == nil {
		return "", eris.Errorf("resolve: unsupported scheme %q in %s", u.Scheme, ref)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", eris.Wrap(err, "resolve: create download dir")
	}
	dest := filepath.Join(r.dir, DownloadName(u))

	n, err := f.DownloadToFile(ctx, ref, dest)
	if err != nil {
		return "", eris.Wrapf(err, "resolve: download %s", ref)
	}
	zap.L().Info("resolve: downloaded input",
		zap.String("url", ref),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

func (r *Resolver) unpack(zipPath string) (string, error) {
	dest := filepath.Join(r.dir, strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath)))
	path, err := ExtractZIP(zipPath, dest)
	if err != nil {
		return "", eris.Wrap(err, "resolve: unpack")
	}
	return path, nil
}
