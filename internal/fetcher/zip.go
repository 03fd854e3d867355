package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// tableExts lists the archive members ExtractZIP picks, in order of preference.
var tableExts = []string{".shp", ".csv", ".tsv", ".txt", ".xlsx"}

// sidecarExts are the shapefile companions read alongside a .shp member.
var sidecarExts = []string{".dbf", ".shx", ".prj", ".cpg"}

// ExtractZIP picks the table member of the archive at zipPath and extracts
// it into destDir, together with its sidecars when it is a shapefile. Other
// members are left in the archive. Returns the path of the extracted table.
func ExtractZIP(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	table := pickTable(r.File)
	if table == nil {
		return "", eris.Errorf("zip: no table found in %s", zipPath)
	}

	tablePath, err := extractMember(table, destDir)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(path.Ext(table.Name), ".shp") {
		for _, f := range sidecars(r.File, table.Name) {
			if _, err := extractMember(f, destDir); err != nil {
				return "", err
			}
		}
	}
	return tablePath, nil
}

// pickTable returns the first member with the most preferred extension.
// Directories and macOS resource forks are never picked.
func pickTable(files []*zip.File) *zip.File {
	for _, ext := range tableExts {
		for _, f := range files {
			if skipMember(f) {
				continue
			}
			if strings.EqualFold(path.Ext(f.Name), ext) {
				return f
			}
		}
	}
	return nil
}

// sidecars returns the members sharing the stem of shp, matched without
// regard to case since shapefile archives mix .SHP and .dbf freely.
func sidecars(files []*zip.File, shp string) []*zip.File {
	stem := strings.TrimSuffix(shp, path.Ext(shp))
	var out []*zip.File
	for _, f := range files {
		if skipMember(f) || f.Name == shp {
			continue
		}
		ext := path.Ext(f.Name)
		if !strings.EqualFold(strings.TrimSuffix(f.Name, ext), stem) {
			continue
		}
		for _, want := range sidecarExts {
			if strings.EqualFold(ext, want) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func skipMember(f *zip.File) bool {
	return f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), "._")
}

// extractMember writes f below destDir, keeping its archive path. Names that
// would escape destDir are rejected.
func extractMember(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: member %q escapes the extraction directory", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrapf(err, "zip: create directory for %s", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open member %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrapf(err, "zip: create %s", dest)
	}
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", eris.Wrapf(err, "zip: extract %s", f.Name)
	}
	return dest, nil
}
