// Package config loads and validates the batch configuration. The
// configuration is read once at startup and is immutable afterwards.
package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/joescharf/nwbbatch/internal/catalog"
	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
)

// List is a string list that may also be given as one comma-separated
// string, as environment variables are. Metadata lists are plain []string
// and never split, so "Baker, Cody" stays one experimenter.
type List []string

var listType = reflect.TypeOf(List(nil))

// commaListHook splits a scalar string decoded into a List.
func commaListHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != listType {
			return data, nil
		}
		s := reflect.ValueOf(data).String()
		if s == "" {
			return List{}, nil
		}
		return List(strings.Split(s, ",")), nil
	}
}

// CompanionConfig is a secondary source list parallel to sessions.primary.
type CompanionConfig struct {
	Kind     string `mapstructure:"kind"`
	Suffix   string `mapstructure:"suffix"`
	IsDir    bool   `mapstructure:"is_dir"`
	Optional bool   `mapstructure:"optional"`
	IDs      List   `mapstructure:"ids"`
}

// SessionsConfig lists the sessions of the batch.
type SessionsConfig struct {
	PrimaryKind  string            `mapstructure:"primary_kind"`
	PrimaryIsDir bool              `mapstructure:"primary_is_dir"`
	Primary      List              `mapstructure:"primary"`
	Companions   []CompanionConfig `mapstructure:"companions"`
}

// SessionOverride is the metadata layer for one session, matched by
// session name. Session names are kept in a list rather than as map keys
// because viper lowercases keys.
type SessionOverride struct {
	Name string `mapstructure:"name"`
	metadata.Record `mapstructure:",squash"`
}

// MetadataConfig holds the configured metadata override layers.
type MetadataConfig struct {
	Batch    metadata.Record   `mapstructure:"batch"`
	Sessions []SessionOverride `mapstructure:"sessions"`
	Inspect  string            `mapstructure:"inspect"`
}

// EngineConfig is the external converter command line.
type EngineConfig struct {
	Command string `mapstructure:"command"`
	Args    List   `mapstructure:"args"`
}

// Config is the complete batch configuration.
type Config struct {
	BasePath     string         `mapstructure:"base_path"`
	OutputSuffix string         `mapstructure:"output_suffix"`
	StateDir     string         `mapstructure:"state_dir"`
	DBPath       string         `mapstructure:"db_path"`
	Concurrency  int            `mapstructure:"concurrency"`
	Stub         bool           `mapstructure:"stub"`
	TaskTimeout  time.Duration  `mapstructure:"task_timeout"`
	Sessions     SessionsConfig `mapstructure:"sessions"`
	Exclude      List           `mapstructure:"exclude"`
	Metadata     MetadataConfig `mapstructure:"metadata"`
	Engine       EngineConfig   `mapstructure:"engine"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("base_path", "")
	v.SetDefault("output_suffix", ".nwb")
	v.SetDefault("state_dir", configDir)
	v.SetDefault("db_path", filepath.Join(configDir, "nwbbatch.db"))
	v.SetDefault("concurrency", 1)
	v.SetDefault("stub", false)
	v.SetDefault("task_timeout", "0s")
	v.SetDefault("sessions.primary_kind", string(models.SourceBehavior))
	v.SetDefault("sessions.primary_is_dir", true)
	v.SetDefault("sessions.primary", []string{})
	v.SetDefault("exclude", []string{})
	v.SetDefault("metadata.inspect", "")
	v.SetDefault("engine.command", "")
	v.SetDefault("engine.args", []string{})
}

// Load decodes v into a Config and validates it. Unknown keys are rejected.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			commaListHook(),
		)),
		func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true },
	)
	if err != nil {
		return nil, &models.ConfigurationError{Msg: fmt.Sprintf("decode: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural consistency of the configuration.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return &models.ConfigurationError{Key: "base_path", Msg: "is required"}
	}
	if c.Concurrency < 1 {
		return &models.ConfigurationError{Key: "concurrency", Msg: fmt.Sprintf("must be at least 1, got %d", c.Concurrency)}
	}
	if c.TaskTimeout < 0 {
		return &models.ConfigurationError{Key: "task_timeout", Msg: "must not be negative"}
	}

	names := make(map[string]bool, len(c.Sessions.Primary))
	for i, p := range c.Sessions.Primary {
		if p == "" {
			return &models.ConfigurationError{Key: "sessions.primary", Msg: fmt.Sprintf("entry %d is empty", i)}
		}
		name := catalog.SessionName(filepath.Join(c.BasePath, p))
		if names[name] {
			return &models.ConfigurationError{Key: "sessions.primary", Msg: fmt.Sprintf("duplicate session %q", name)}
		}
		names[name] = true
	}

	kinds := map[string]bool{c.primaryKind(): true}
	for i, comp := range c.Sessions.Companions {
		key := fmt.Sprintf("sessions.companions[%d]", i)
		if comp.Kind == "" {
			return &models.ConfigurationError{Key: key, Msg: "kind is required"}
		}
		if kinds[comp.Kind] {
			return &models.ConfigurationError{Key: key, Msg: fmt.Sprintf("source kind %q is configured twice", comp.Kind)}
		}
		kinds[comp.Kind] = true
		if len(comp.IDs) != len(c.Sessions.Primary) {
			return &models.ConfigurationError{Key: key, Msg: fmt.Sprintf(
				"has %d entries but sessions.primary has %d", len(comp.IDs), len(c.Sessions.Primary))}
		}
	}

	if c.Metadata.Inspect != "" && !kinds[c.Metadata.Inspect] {
		return &models.ConfigurationError{Key: "metadata.inspect", Msg: fmt.Sprintf("source kind %q is not configured", c.Metadata.Inspect)}
	}
	if err := c.Metadata.Batch.Validate(); err != nil {
		return &models.ConfigurationError{Key: "metadata.batch", Msg: err.Error()}
	}
	seen := make(map[string]bool, len(c.Metadata.Sessions))
	for i, o := range c.Metadata.Sessions {
		key := fmt.Sprintf("metadata.sessions[%d]", i)
		switch {
		case o.Name == "":
			return &models.ConfigurationError{Key: key, Msg: "name is required"}
		case !names[o.Name]:
			return &models.ConfigurationError{Key: key, Msg: fmt.Sprintf("unknown session %q", o.Name)}
		case seen[o.Name]:
			return &models.ConfigurationError{Key: key, Msg: fmt.Sprintf("duplicate override for %q", o.Name)}
		}
		seen[o.Name] = true
		if err := o.Record.Validate(); err != nil {
			return &models.ConfigurationError{Key: key, Msg: err.Error()}
		}
	}
	return nil
}

// RequireEngine reports a configuration error when no engine command is set.
func (c *Config) RequireEngine() error {
	if c.Engine.Command == "" {
		return &models.ConfigurationError{Key: "engine.command", Msg: "is required to run conversions"}
	}
	return nil
}

func (c *Config) primaryKind() string {
	if c.Sessions.PrimaryKind == "" {
		return string(models.SourceBehavior)
	}
	return c.Sessions.PrimaryKind
}

// Sources returns the catalog input for this configuration.
func (c *Config) Sources() catalog.Sources {
	src := catalog.Sources{
		BasePath:     c.BasePath,
		OutputSuffix: c.OutputSuffix,
		PrimaryKind:  models.SourceKind(c.primaryKind()),
		PrimaryIsDir: c.Sessions.PrimaryIsDir,
		Primary:      append([]string{}, c.Sessions.Primary...),
		Exclude:      append([]string{}, c.Exclude...),
	}
	for _, comp := range c.Sessions.Companions {
		src.Companions = append(src.Companions, catalog.Companion{
			Kind:     models.SourceKind(comp.Kind),
			Suffix:   comp.Suffix,
			IsDir:    comp.IsDir,
			Optional: comp.Optional,
			IDs:      append([]string{}, comp.IDs...),
		})
	}
	return src
}

// Composer returns a metadata composer over the configured override layers.
func (c *Config) Composer() *metadata.Composer {
	sessions := make(map[string]metadata.Record, len(c.Metadata.Sessions))
	for _, o := range c.Metadata.Sessions {
		sessions[o.Name] = o.Record
	}
	batch := c.Metadata.Batch
	return metadata.NewComposer(&batch, sessions)
}
