// Package config provides the finalized dump configuration and loading of
// xresdump.yaml configuration files.
package config

import (
	"os"
	"path/filepath"

	"github.com/zero-day-ai/xresdump/dumperr"
	"github.com/zero-day-ai/xresdump/filter"
	"gopkg.in/yaml.v3"
)

const component = "config"

// Config is the complete configuration of one dump run.
type Config struct {
	// Inputs
	PbFiles  []string `yaml:"pb_files,omitempty"`
	BinFiles []string `yaml:"bin_files,omitempty"`

	// Console output
	Debug    bool `yaml:"debug,omitempty"`
	Pretty   bool `yaml:"pretty,omitempty"`    // indent rows and every JSON output
	Plain    bool `yaml:"plain,omitempty"`     // protobuf text format instead of JSON
	HeadOnly bool `yaml:"head_only,omitempty"` // print headers without rows
	Silence  bool `yaml:"silence,omitempty"`   // print neither headers nor rows

	StringTable ExtractConfig `yaml:"string_table,omitempty"`
	TaggedData  TaggedConfig  `yaml:"tagged_data,omitempty"`
}

// ExtractConfig configures one extraction plugin. The plugin is enabled when
// at least one output file is set.
type ExtractConfig struct {
	OutputJSON string `yaml:"output_json,omitempty"`
	OutputText string `yaml:"output_text,omitempty"`
	Pretty     bool   `yaml:"pretty,omitempty"`
	Ordered    bool   `yaml:"ordered,omitempty"`

	IncludeValueRegexRules  []string `yaml:"include_value_regex_rules,omitempty"`
	IncludeValueRegexFiles  []string `yaml:"include_value_regex_files,omitempty"`
	ExcludeValueRegexRules  []string `yaml:"exclude_value_regex_rules,omitempty"`
	ExcludeValueRegexFiles  []string `yaml:"exclude_value_regex_files,omitempty"`
	IncludeFieldPathFiles   []string `yaml:"include_field_path_files,omitempty"`
	ExcludeFieldPathFiles   []string `yaml:"exclude_field_path_files,omitempty"`
	IncludeMessagePathFiles []string `yaml:"include_message_path_files,omitempty"`
	ExcludeMessagePathFiles []string `yaml:"exclude_message_path_files,omitempty"`
}

// TaggedConfig configures the tagged field plugin.
type TaggedConfig struct {
	ExtractConfig `yaml:",inline"`

	// FieldTags selects fields by their org.xresloader.field_tag values.
	FieldTags []string `yaml:"field_tags,omitempty"`

	// OneofTags selects fields of oneofs by their org.xresloader.oneof_tag values.
	OneofTags []string `yaml:"oneof_tags,omitempty"`
}

// Enabled reports whether any output file is configured.
func (e *ExtractConfig) Enabled() bool {
	return e.OutputJSON != "" || e.OutputText != ""
}

// Rules returns the rule sources of the extraction.
func (e *ExtractConfig) Rules() filter.RuleSource {
	return filter.RuleSource{
		IncludeValueRegexRules:  e.IncludeValueRegexRules,
		IncludeValueRegexFiles:  e.IncludeValueRegexFiles,
		ExcludeValueRegexRules:  e.ExcludeValueRegexRules,
		ExcludeValueRegexFiles:  e.ExcludeValueRegexFiles,
		IncludeFieldPathFiles:   e.IncludeFieldPathFiles,
		ExcludeFieldPathFiles:   e.ExcludeFieldPathFiles,
		IncludeMessagePathFiles: e.IncludeMessagePathFiles,
		ExcludeMessagePathFiles: e.ExcludeMessagePathFiles,
	}
}

// StringTableEnabled reports whether the string table plugin runs.
func (c *Config) StringTableEnabled() bool { return c.StringTable.Enabled() }

// TaggedDataEnabled reports whether the tagged field plugin runs.
func (c *Config) TaggedDataEnabled() bool { return c.TaggedData.Enabled() }

// StringTablePretty reports whether string table JSON is indented.
func (c *Config) StringTablePretty() bool { return c.Pretty || c.StringTable.Pretty }

// TaggedDataPretty reports whether tagged field JSON is indented.
func (c *Config) TaggedDataPretty() bool { return c.Pretty || c.TaggedData.Pretty }

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if len(c.BinFiles) == 0 {
		return dumperr.New(component, "validate", dumperr.ErrCodeInvalidConfig, "no binary file to dump")
	}
	return nil
}

// Parse decodes a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, dumperr.New(component, "parse", dumperr.ErrCodeInvalidConfig, "failed to parse config file").
			WithCause(err)
	}
	return &cfg, nil
}

// Load reads and parses a configuration file from the given path.
// If the path is a directory, it looks for xresdump.yaml or xresdump.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, dumperr.New(component, "load", dumperr.ErrCodeInvalidConfig, "failed to stat path").
			WithCause(err).
			WithDetails(map[string]any{"path": path})
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"xresdump.yaml", "xresdump.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, dumperr.Newf(component, "load", dumperr.ErrCodeInvalidConfig,
				"no xresdump.yaml or xresdump.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, dumperr.New(component, "load", dumperr.ErrCodeInvalidConfig, "failed to read config file").
			WithCause(err).
			WithDetails(map[string]any{"path": configPath})
	}

	return Parse(data)
}
