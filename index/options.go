package index

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tern-search/tern/impact"
	"github.com/tern-search/tern/search"
)

// Options configure an index. The zero value is not usable; start from
// DefaultOptions or a config file.
type Options struct {
	// PageSize is the vocabulary b-tree page size in bytes.
	PageSize int `yaml:"page_size"`
	// MaxFileSize bounds each numbered index file.
	MaxFileSize uint64 `yaml:"max_file_size"`
	// BufferSize is how much accumulated postings memory triggers a dump.
	BufferSize int `yaml:"buffer_size"`
	// PyramidWidth bounds how many runs merge at once.
	PyramidWidth int `yaml:"pyramid_width"`
	// CompressRuns zstd-compresses intermediate run files.
	CompressRuns bool `yaml:"compress_runs"`
	// Positions stores word positions, enabling phrase queries.
	Positions bool `yaml:"positions"`
	// Stemmer names a snowball language, empty for none.
	Stemmer string `yaml:"stemmer"`
	// StopWords are dropped at indexing and query time.
	StopWords []string `yaml:"stop_words"`
	// IgnoreVersion opens indexes written by other format versions.
	IgnoreVersion bool `yaml:"ignore_version"`

	Impacts impact.Params  `yaml:"impacts"`
	Search  search.Options `yaml:"search"`
}

const (
	DefaultPageSize     = 8192
	DefaultMaxFileSize  = 1 << 31
	DefaultBufferSize   = 16 << 20
	DefaultPyramidWidth = 8
)

func DefaultOptions() Options {
	return Options{
		PageSize:     DefaultPageSize,
		MaxFileSize:  DefaultMaxFileSize,
		BufferSize:   DefaultBufferSize,
		PyramidWidth: DefaultPyramidWidth,
		Positions:    true,
		Impacts:      impact.DefaultParams(),
	}
}

// LoadOptions reads a YAML config file over the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "reading config %v", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "parsing config %v", path)
	}
	return opts, nil
}

func (o *Options) fillDefaults() {
	def := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = def.PageSize
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = def.MaxFileSize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.PyramidWidth < 2 {
		o.PyramidWidth = def.PyramidWidth
	}
	if o.Impacts.QuantBits == 0 {
		o.Impacts = def.Impacts
	}
}
