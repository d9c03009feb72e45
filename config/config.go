// Package config loads the goingest command configuration from the defaults, an optional config
// file and the GOINGEST_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/funktionslust/goingest"

	"github.com/go-playground/validator"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes the environment variables overriding the configuration keys, e.g.
// GOINGEST_IMPORT_CHECKSUM overrides import.checksum.
const EnvPrefix = "GOINGEST"

type (
	// Config is the complete goingest configuration.
	Config struct {
		ProcessID  string `mapstructure:"process_id" validate:"required"`
		Scan       Scan
		Import     Import
		Metadata   Metadata
		Repository Repository
		Tracker    Tracker
		Catalog    Catalog
		Metrics    Metrics
		Log        Log
	}

	Scan struct {
		MaxDepth int `mapstructure:"max_depth" validate:"gte=1"`
	}

	Import struct {
		Checksum        string        `validate:"required"`
		ContinueOnError bool          `mapstructure:"continue_on_error"`
		PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
		StepTimeout     time.Duration `mapstructure:"step_timeout" validate:"gt=0"`
		SkipThumbnails  bool          `mapstructure:"skip_thumbnails"`
		SkipStatistics  bool          `mapstructure:"skip_statistics"`
		SkipChecksum    bool          `mapstructure:"skip_checksum"`
	}

	// Metadata is applied to every imported unit.
	Metadata struct {
		Name        string
		Description string
		Annotations map[string]string
		TargetKind  string `mapstructure:"target_kind"`
		TargetID    string `mapstructure:"target_id"`
		TargetName  string `mapstructure:"target_name"`
	}

	Repository struct {
		Kind      string `validate:"oneof=memory s3"`
		BlockSize int    `mapstructure:"block_size" validate:"gte=0"`
		S3        S3
	}

	S3 struct {
		Bucket         string
		Prefix         string
		Region         string
		Endpoint       string
		ForcePathStyle bool  `mapstructure:"force_path_style"`
		PartSize       int64 `mapstructure:"part_size" validate:"gte=0"`
		CreateTargets  bool  `mapstructure:"create_targets"`
	}

	Tracker struct {
		Kind           string `validate:"oneof=none sqlite mysql"`
		SQLitePath     string `mapstructure:"sqlite_path"`
		CleanupOnStart bool   `mapstructure:"cleanup_on_start"`
		MySQL          MySQL
	}

	MySQL struct {
		Host     string
		Port     string
		Database string
		User     string
		Password string
	}

	Catalog struct {
		Enabled     bool
		ServerURL   string `mapstructure:"server_url" validate:"omitempty,url"`
		Index       string
		IndicesPath string `mapstructure:"indices_path"`
		FlushSize   int    `mapstructure:"flush_size" validate:"gte=0"`
	}

	Metrics struct {
		// Addr is the listen address of the Prometheus endpoint. Empty disables the endpoint.
		Addr string
	}

	Log struct {
		Level       string `validate:"oneof=debug info warn error"`
		Development bool
	}
)

// New returns a viper instance with the defaults set and the environment bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("process_id", "goingest")
	v.SetDefault("scan.max_depth", goingest.DefaultMaxDepth)

	v.SetDefault("import.checksum", string(goingest.DefaultChecksumAlgorithm))
	v.SetDefault("import.continue_on_error", false)
	v.SetDefault("import.poll_interval", goingest.DefaultPollInterval)
	v.SetDefault("import.step_timeout", goingest.DefaultStepTimeout)
	v.SetDefault("import.skip_thumbnails", false)
	v.SetDefault("import.skip_statistics", false)
	v.SetDefault("import.skip_checksum", false)

	v.SetDefault("metadata.name", "")
	v.SetDefault("metadata.description", "")
	v.SetDefault("metadata.annotations", map[string]string{})
	v.SetDefault("metadata.target_kind", "Dataset")
	v.SetDefault("metadata.target_id", "")
	v.SetDefault("metadata.target_name", "")

	v.SetDefault("repository.kind", "memory")
	v.SetDefault("repository.block_size", goingest.DefaultBlockSize)
	v.SetDefault("repository.s3.bucket", "")
	v.SetDefault("repository.s3.prefix", "")
	v.SetDefault("repository.s3.region", "")
	v.SetDefault("repository.s3.endpoint", "")
	v.SetDefault("repository.s3.force_path_style", false)
	v.SetDefault("repository.s3.part_size", 0)
	v.SetDefault("repository.s3.create_targets", true)

	v.SetDefault("tracker.kind", "none")
	v.SetDefault("tracker.sqlite_path", "goingest.db")
	v.SetDefault("tracker.cleanup_on_start", true)
	v.SetDefault("tracker.mysql.host", "")
	v.SetDefault("tracker.mysql.port", "3306")
	v.SetDefault("tracker.mysql.database", "goingest")
	v.SetDefault("tracker.mysql.user", "")
	v.SetDefault("tracker.mysql.password", "")

	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.server_url", "")
	v.SetDefault("catalog.index", "goingest-imports")
	v.SetDefault("catalog.indices_path", "")
	v.SetDefault("catalog.flush_size", 1)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	return v
}

// Load reads the optional config file into v and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read the config file %s: %v", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode the config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config tags and the settings required by the chosen components.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	if _, err := goingest.ParseChecksumAlgorithm(c.Import.Checksum); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	if c.Repository.Kind == "s3" && c.Repository.S3.Bucket == "" {
		return errors.New("invalid config: repository.s3.bucket is required by the s3 repository")
	}
	if c.Tracker.Kind == "mysql" && (c.Tracker.MySQL.Host == "" || c.Tracker.MySQL.User == "") {
		return errors.New("invalid config: tracker.mysql host and user are required by the mysql tracker")
	}
	if c.Catalog.Enabled && c.Catalog.ServerURL == "" {
		return errors.New("invalid config: catalog.server_url is required by the enabled catalog")
	}
	if (c.Metadata.TargetID != "" || c.Metadata.TargetName != "") && c.Metadata.TargetKind == "" {
		return errors.New("invalid config: metadata.target_kind is required by the target")
	}
	return nil
}

// Checksum returns the configured checksum algorithm.
func (c *Config) Checksum() goingest.ChecksumAlgorithm {
	a, _ := goingest.ParseChecksumAlgorithm(c.Import.Checksum)
	return a
}

// UnitMetadata returns the metadata applied to the imported units.
func (c *Config) UnitMetadata() goingest.Metadata {
	m := goingest.Metadata{
		Name:        c.Metadata.Name,
		Description: c.Metadata.Description,
		Annotations: c.Metadata.Annotations,
		Options: goingest.UnitOptions{
			SkipThumbnails: c.Import.SkipThumbnails,
			SkipStatistics: c.Import.SkipStatistics,
			SkipChecksum:   c.Import.SkipChecksum,
		},
	}
	if c.Metadata.TargetID != "" || c.Metadata.TargetName != "" {
		m.Target = &goingest.TargetRef{Kind: c.Metadata.TargetKind, ID: c.Metadata.TargetID, Name: c.Metadata.TargetName}
	}
	return m
}

// Logger builds the zap logger of the configured level.
func (l Log) Logger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
