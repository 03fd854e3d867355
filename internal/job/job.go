// Package job reads YAML job files describing a context run.
package job

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geocontext/internal/dataset"
)

// Formats lists the supported output formats.
var Formats = []string{"csv", "xlsx", "json"}

// Job is one context run: inputs, fields, k-values and output.
type Job struct {
	Name       string    `yaml:"name"`
	Points     Input     `yaml:"points"`
	Locations  Input     `yaml:"locations"`
	Population string    `yaml:"population"`
	Groups     []string  `yaml:"groups"`
	KValues    []float64 `yaml:"k_values"`
	Output     Output    `yaml:"output"`
}

// Input names a table and its coordinate columns. Path may be a local file
// or an http(s):// or ftp:// URL.
type Input struct {
	Path  string `yaml:"path"`
	North string `yaml:"north"`
	East  string `yaml:"east"`
}

// Output is where the enriched points table is written.
type Output struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // csv, xlsx or json; inferred from Path when empty
}

// Load reads a job from a YAML file. Relative input and output paths are
// resolved against the directory of the file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "job: read %s", path)
	}

	// The YAML has a top-level "job" key
	var wrapper struct {
		Job Job `yaml:"job"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "job: parse %s", path)
	}

	j := &wrapper.Job
	base := filepath.Dir(path)
	j.Points.Path = relativeTo(base, j.Points.Path)
	j.Locations.Path = relativeTo(base, j.Locations.Path)
	j.Output.Path = relativeTo(base, j.Output.Path)
	if j.Output.Format == "" {
		j.Output.Format = FormatFromPath(j.Output.Path)
	}
	return j, nil
}

// Validate checks that the job is complete.
func (j *Job) Validate() error {
	var errs []string
	if j.Points.Path == "" {
		errs = append(errs, "points.path is required")
	}
	if j.Locations.Path == "" {
		errs = append(errs, "locations.path is required")
	}
	if j.Population == "" {
		errs = append(errs, "population is required")
	}
	if len(j.KValues) == 0 {
		errs = append(errs, "k_values must not be empty")
	}
	for _, k := range j.KValues {
		if k <= 0 {
			errs = append(errs, "k_values must be positive")
			break
		}
	}
	if j.Output.Format != "" && !slices.Contains(Formats, j.Output.Format) {
		errs = append(errs, "output.format must be one of "+strings.Join(Formats, ", "))
	}
	if len(errs) > 0 {
		return eris.Errorf("job: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Fields returns the dataset field mapping of the job.
func (j *Job) Fields() dataset.Fields {
	return dataset.Fields{
		PointNorth:    j.Points.North,
		PointEast:     j.Points.East,
		LocationNorth: j.Locations.North,
		LocationEast:  j.Locations.East,
		Population:    j.Population,
		Groups:        j.Groups,
	}.WithDefaults()
}

// FormatFromPath infers an output format from a file extension, defaulting
// to csv.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "xlsx"
	case ".json":
		return "json"
	}
	return "csv"
}

func relativeTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(base, p)
}
