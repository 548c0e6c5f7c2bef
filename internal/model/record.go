package model

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// ErrMissingArray is returned when a numeric record lacks a named array.
var ErrMissingArray = errors.New("model: missing array")

// Record is the numeric half of a saved model: named arrays grouped in
// buckets. Arrays are stored in gonum's binary matrix encoding; an empty
// value is a zero-length array.
type Record struct {
	buckets map[string]map[string]*mat.Dense
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{buckets: make(map[string]map[string]*mat.Dense)}
}

// Put stores m under bucket/name. A nil m stores an empty array.
func (r *Record) Put(bucket, name string, m *mat.Dense) {
	b, ok := r.buckets[bucket]
	if !ok {
		b = make(map[string]*mat.Dense)
		r.buckets[bucket] = b
	}
	b[name] = m
}

// PutVec stores v as a 1 x len(v) array.
func (r *Record) PutVec(bucket, name string, v []float64) {
	if len(v) == 0 {
		r.Put(bucket, name, nil)
		return
	}
	r.Put(bucket, name, mat.NewDense(1, len(v), append([]float64(nil), v...)))
}

// PutInts stores integers as a float vector.
func (r *Record) PutInts(bucket, name string, v []int) {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	r.PutVec(bucket, name, f)
}

// PutPairs stores pairs as an n x 2 array.
func (r *Record) PutPairs(bucket, name string, pairs [][2]float64) {
	if len(pairs) == 0 {
		r.Put(bucket, name, nil)
		return
	}
	m := mat.NewDense(len(pairs), 2, nil)
	for i, p := range pairs {
		m.SetRow(i, p[:])
	}
	r.Put(bucket, name, m)
}

// Buckets returns the bucket names, sorted.
func (r *Record) Buckets() []string {
	out := make([]string, 0, len(r.buckets))
	for name := range r.buckets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dense returns the array at bucket/name; nil for an empty array.
func (r *Record) Dense(bucket, name string) (*mat.Dense, error) {
	m, ok := r.buckets[bucket][name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingArray, "%s/%s", bucket, name)
	}
	return m, nil
}

// Vec returns the array at bucket/name flattened row-major.
func (r *Record) Vec(bucket, name string) ([]float64, error) {
	m, err := r.Dense(bucket, name)
	if err != nil || m == nil {
		return nil, err
	}
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out, nil
}

// Ints returns a vector stored by PutInts.
func (r *Record) Ints(bucket, name string) ([]int, error) {
	v, err := r.Vec(bucket, name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out, nil
}

// Pairs returns an n x 2 array stored by PutPairs.
func (r *Record) Pairs(bucket, name string) ([][2]float64, error) {
	m, err := r.Dense(bucket, name)
	if err != nil || m == nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if cols != 2 {
		return nil, errors.Errorf("model: %s/%s has %d columns, want 2", bucket, name, cols)
	}
	out := make([][2]float64, rows)
	for i := range out {
		out[i] = [2]float64{m.At(i, 0), m.At(i, 1)}
	}
	return out, nil
}

func openRecordDB(path string, readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "model: open record %s", path)
	}
	return db, nil
}

// WriteRecord replaces the file at path with r.
func WriteRecord(path string, r *Record) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "model: replace record %s", path)
	}
	db, err := openRecordDB(path, false)
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range r.Buckets() {
			b, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return err
			}
			for key, m := range r.buckets[name] {
				var data []byte
				if m != nil {
					if data, err = m.MarshalBinary(); err != nil {
						return errors.Wrapf(err, "encode %s/%s", name, key)
					}
				}
				if err := b.Put([]byte(key), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "model: write record %s", path)
}

// ReadRecord loads every bucket of the record at path.
func ReadRecord(path string) (*Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "model: read record")
	}
	db, err := openRecordDB(path, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	r := NewRecord()
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			bucket := string(name)
			return b.ForEach(func(k, v []byte) error {
				if len(v) == 0 {
					r.Put(bucket, string(k), nil)
					return nil
				}
				m := &mat.Dense{}
				if err := m.UnmarshalBinary(v); err != nil {
					return errors.Wrapf(err, "decode %s/%s", bucket, k)
				}
				r.Put(bucket, string(k), m)
				return nil
			})
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "model: read record %s", path)
	}
	return r, nil
}

// Meta is the metadata half of a saved model.
type Meta struct {
	Kind    Kind      `yaml:"kind"`
	RunID   string    `yaml:"run_id"`
	Saved   time.Time `yaml:"saved"`
	Threads int       `yaml:"threads"`

	Within  int `yaml:"within"`
	Between int `yaml:"between"`

	Mixture *MixtureMeta `yaml:"mixture,omitempty"`
	Density *DensityMeta `yaml:"density,omitempty"`
	Refine  *RefineMeta  `yaml:"refine,omitempty"`
	Lineage *LineageMeta `yaml:"lineage,omitempty"`
}

// MixtureMeta holds the scalar mixture parameters.
type MixtureMeta struct {
	Components int `yaml:"components"`
	MaxSamples int `yaml:"max_samples"`
}

// DensityMeta holds the scalar density parameters.
type DensityMeta struct {
	Clusters       int     `yaml:"clusters"`
	Eps            float64 `yaml:"eps"`
	MinSamples     int     `yaml:"min_samples"`
	MinClusterSize int     `yaml:"min_cluster_size"`
	MaxSamples     int     `yaml:"max_samples"`
}

// RefineMeta holds the scalar refine parameters.
type RefineMeta struct {
	Slope       int  `yaml:"slope"`
	Threshold   bool `yaml:"threshold"`
	IndivFitted bool `yaml:"indiv_fitted"`
	// Unconstrained is set when the two intercepts were searched
	// independently.
	Unconstrained bool `yaml:"unconstrained,omitempty"`
}

// LineageMeta holds the scalar lineage parameters.
type LineageMeta struct {
	Ranks          []int   `yaml:"ranks"`
	MaxSearchDepth int     `yaml:"max_search_depth"`
	Samples        int     `yaml:"samples"`
	UseAccessory   bool    `yaml:"use_accessory"`
	Epsilon        float64 `yaml:"epsilon"`
	CountUnique    bool    `yaml:"count_unique"`
	ReciprocalOnly bool    `yaml:"reciprocal_only"`
}

func (b *base) meta() Meta {
	return Meta{
		Kind:    b.kind,
		RunID:   b.runID,
		Saved:   time.Now().UTC(),
		Threads: b.threads,
	}
}

// save writes both halves of a model.
func (b *base) save(meta Meta, rec *Record) error {
	if err := b.requireFitted(); err != nil {
		return err
	}
	metaPath, recPath, err := b.paths()
	if err != nil {
		return err
	}
	rec.PutVec("scale", "scale", b.scale[:])

	data, err := yaml.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "model: encode metadata")
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return errors.Wrap(err, "model: write metadata")
	}
	return WriteRecord(recPath, rec)
}

// ReadMeta reads the metadata record for prefix in dir.
func ReadMeta(dir, prefix string) (Meta, error) {
	path, _ := Paths(dir, prefix)
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, errors.Wrap(err, "model: read metadata")
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Meta{}, errors.Wrapf(err, "model: parse metadata %s", path)
	}
	if !meta.Kind.Valid() {
		return Meta{}, errors.Wrapf(ErrConfig, "unknown model kind %q in %s", meta.Kind, path)
	}
	return meta, nil
}

// Load reconstructs a saved model. opts supplies runtime settings (threads,
// metrics, progress); OutDir and Prefix default to dir and prefix.
func Load(dir, prefix string, opts Options) (Model, error) {
	meta, err := ReadMeta(dir, prefix)
	if err != nil {
		return nil, err
	}
	_, recPath := Paths(dir, prefix)
	rec, err := ReadRecord(recPath)
	if err != nil {
		return nil, err
	}
	if opts.OutDir == "" {
		opts.OutDir = dir
	}
	if opts.Prefix == "" {
		opts.Prefix = prefix
	}

	var m interface {
		Model
		restore(meta Meta, rec *Record) error
	}
	switch meta.Kind {
	case KindMixture:
		m = NewMixture(opts)
	case KindDensity:
		m = NewDensity(opts)
	case KindRefine:
		m = NewRefine(opts)
	case KindLineage:
		m = newLineage(opts)
	default:
		return nil, errors.Wrapf(ErrConfig, "unknown model kind %q", meta.Kind)
	}
	if err := m.restore(meta, rec); err != nil {
		return nil, errors.Wrapf(err, "model: load %s", meta.Kind)
	}
	return m, nil
}

// restoreBase fills the shared fields from a saved model.
func (b *base) restoreBase(meta Meta, rec *Record) error {
	scale, err := rec.Vec("scale", "scale")
	if err != nil {
		return err
	}
	if len(scale) != 2 {
		return errors.Errorf("model: scale has %d values", len(scale))
	}
	b.scale = [2]float64{scale[0], scale[1]}
	b.runID = meta.RunID
	b.fitted = true
	return nil
}
