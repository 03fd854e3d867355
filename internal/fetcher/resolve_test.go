package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_LocalPath(t *testing.T) {
	path := writeInput(t, "points.csv", "North,East\n")

	r := NewResolver(t.TempDir(), nil, nil)
	got, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestResolve_FileScheme(t *testing.T) {
	path := writeInput(t, "points.csv", "North,East\n")

	r := NewResolver(t.TempDir(), nil, nil)
	got, err := r.Resolve(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestResolve_MissingLocal(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve: input")
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), "s3://bucket/grid.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestResolve_HTTPDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("North,East,pop\n1,1,5\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	r := NewResolver(dir, NewHTTPFetcher(HTTPOptions{BaseBackoff: time.Millisecond}), nil)
	got, err := r.Resolve(context.Background(), srv.URL+"/data/grid.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "grid.csv"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "North,East,pop\n1,1,5\n", string(data))
}

func TestResolve_ZipPicksShapefile(t *testing.T) {
	archive, err := os.ReadFile(writeZIP(t, "blocks.zip",
		member{"blocks.dbf", "dbf"},
		member{"README.txt", "readme"},
		member{"blocks.shp", "shp"},
		member{"blocks.shx", "shx"},
	))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	r := NewResolver(dir, NewHTTPFetcher(HTTPOptions{BaseBackoff: time.Millisecond}), nil)
	got, err := r.Resolve(context.Background(), srv.URL+"/tl_2018_blocks.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tl_2018_blocks", "blocks.shp"), got)
	assert.FileExists(t, filepath.Join(dir, "tl_2018_blocks", "blocks.dbf"))
	assert.NoFileExists(t, filepath.Join(dir, "tl_2018_blocks", "README.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "tl_2018_blocks.zip.part"))
}

func TestResolve_ZipWithoutTable(t *testing.T) {
	zipPath := writeZIP(t, "images.zip", member{"image.png", "x"})
	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), zipPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table found")
}
