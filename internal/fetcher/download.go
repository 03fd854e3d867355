package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/rotisserie/eris"
)

// downloader is the streaming half of Fetcher.
type downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// saveDownload streams rawURL from d into dest. The body lands in a
// temporary file next to dest and is renamed into place only once fully
// written, so an interrupted transfer never leaves a truncated input behind.
func saveDownload(ctx context.Context, d downloader, rawURL, dest string) (int64, error) {
	body, err := d.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return writeFile(dest, body)
}

func writeFile(dest string, r io.Reader) (n int64, err error) {
	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrapf(err, "fetch: create %s", tmp)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	n, err = io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrapf(err, "fetch: write %s", tmp)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return n, eris.Wrapf(err, "fetch: rename %s", tmp)
	}
	return n, nil
}

// DownloadName is the local file name a download of u is stored under: the
// last element of the URL path, or "download" when the path has none.
func DownloadName(u *url.URL) string {
	name := path.Base(u.Path)
	switch name {
	case ".", "/", "":
		return "download"
	}
	return name
}
