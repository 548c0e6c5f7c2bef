// Package config loads run settings from straincluster.yml.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileNames are tried in order by Load.
var FileNames = []string{"straincluster.yml", "straincluster.yaml"}

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("config: invalid")

// Config holds every setting of a run. Zero values are replaced by Defaults
// only when loaded through Load.
type Config struct {
	OutDir  string `yaml:"out_dir" validate:"required"`
	Prefix  string `yaml:"prefix,omitempty"`
	Threads int    `yaml:"threads" validate:"min=1"`
	Seed    int64  `yaml:"seed"`
	Verbose bool   `yaml:"verbose,omitempty"`

	// MaxAccessory is the QC ceiling on accessory distances.
	MaxAccessory float64 `yaml:"max_a_dist" validate:"gt=0,lte=1"`
	// FullDB keeps every sample in the stored network instead of only the
	// references.
	FullDB bool `yaml:"full_db,omitempty"`
	// Graph persists the network to a graph store next to the outputs.
	Graph bool `yaml:"graph"`

	Fit     FitConfig     `yaml:"fit"`
	Refine  RefineConfig  `yaml:"refine"`
	Lineage LineageConfig `yaml:"lineage"`
	Remote  RemoteConfig  `yaml:"remote,omitempty"`
	Serve   ServeConfig   `yaml:"serve,omitempty"`
}

// FitConfig configures the mixture and density models.
type FitConfig struct {
	Kind           string  `yaml:"kind" validate:"oneof=bgmm dbscan"`
	MaxComponents  int     `yaml:"max_components" validate:"min=2"`
	MaxClusters    int     `yaml:"max_clusters" validate:"min=2"`
	MinClusterProp float64 `yaml:"min_cluster_prop" validate:"gt=0,lt=1"`
	MaxSamples     int     `yaml:"max_samples" validate:"min=0"`
}

// RefineConfig configures boundary refinement.
type RefineConfig struct {
	// PosShift and NegShift bound the move from the midpoint of the start
	// points, in scaled units. Zero means half the start point distance.
	PosShift      float64 `yaml:"pos_shift" validate:"min=0"`
	NegShift      float64 `yaml:"neg_shift" validate:"min=0"`
	Points        int     `yaml:"points" validate:"min=3"`
	NoLocal       bool    `yaml:"no_local,omitempty"`
	Unconstrained bool    `yaml:"unconstrained,omitempty"`
	// MultiBoundary writes clusterings at this many boundary positions
	// along the search line; below 2 writes none.
	MultiBoundary int     `yaml:"multi_boundary,omitempty" validate:"min=0"`
	Indiv         string  `yaml:"indiv,omitempty" validate:"omitempty,oneof=core accessory both"`
	ManualStart   string  `yaml:"manual_start,omitempty"`
	Threshold     float64 `yaml:"threshold,omitempty" validate:"min=0"`
}

// LineageConfig configures the rank graphs.
type LineageConfig struct {
	Ranks          []int   `yaml:"ranks" validate:"min=1,dive,min=1"`
	MaxSearchDepth int     `yaml:"max_search_depth" validate:"min=0"`
	UseAccessory   bool    `yaml:"use_accessory,omitempty"`
	CountUnique    bool    `yaml:"count_unique,omitempty"`
	ReciprocalOnly bool    `yaml:"reciprocal_only,omitempty"`
	Epsilon        float64 `yaml:"epsilon,omitempty" validate:"min=0"`
}

// RemoteConfig points at a distance service used instead of a TSV file.
type RemoteConfig struct {
	Endpoint string        `yaml:"endpoint,omitempty" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout,omitempty" validate:"min=0"`
}

// ServeConfig configures the query server.
type ServeConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Config {
	return &Config{
		OutDir:       "straincluster_db",
		Threads:      1,
		MaxAccessory: 0.5,
		Graph:        true,
		Fit: FitConfig{
			Kind:           "bgmm",
			MaxComponents:  2,
			MaxClusters:    100,
			MinClusterProp: 0.0001,
		},
		Refine: RefineConfig{
			PosShift: 0.2,
			NegShift: 0.4,
			Points:   40,
		},
		Lineage: LineageConfig{
			Ranks: []int{1, 2, 3, 5},
		},
		Remote: RemoteConfig{Timeout: 30 * time.Second},
		Serve:  ServeConfig{Addr: "127.0.0.1:8090"},
	}
}

// Load reads straincluster.yml or straincluster.yaml from dir over the
// defaults. A missing file is not an error.
func Load(dir string) (*Config, error) {
	cfg := Defaults()
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
		break
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "config: validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.Wrap(ErrInvalid, strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + e.Param()
	case "gt":
		return field + " must be greater than " + e.Param()
	case "lt":
		return field + " must be less than " + e.Param()
	case "lte":
		return field + " must be at most " + e.Param()
	case "oneof":
		return field + " must be one of: " + e.Param()
	case "url":
		return field + " must be a URL"
	default:
		return field + " is invalid"
	}
}
