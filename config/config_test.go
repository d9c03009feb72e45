package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/funktionslust/goingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// ACT
	cfg, err := Load(New(), "")

	// ASSERT
	if !assert.NoErrorf(t, err, "load failed") {
		return
	}
	assert.Equalf(t, goingest.DefaultMaxDepth, cfg.Scan.MaxDepth, "max depth mismatch")
	assert.Equalf(t, goingest.DefaultChecksumAlgorithm, cfg.Checksum(), "checksum mismatch")
	assert.Equalf(t, time.Second, cfg.Import.PollInterval, "poll interval mismatch")
	assert.Equalf(t, time.Hour, cfg.Import.StepTimeout, "step timeout mismatch")
	assert.Equalf(t, "memory", cfg.Repository.Kind, "repository kind mismatch")
	assert.Equalf(t, "none", cfg.Tracker.Kind, "tracker kind mismatch")
	assert.Nilf(t, cfg.UnitMetadata().Target, "no target expected by default")
}

func TestLoadOverrides(t *testing.T) {
	// ARRANGE
	path := filepath.Join(t.TempDir(), "goingest.yaml")
	content := `
scan:
  max_depth: 2
repository:
  kind: s3
  s3:
    bucket: images
metadata:
  name: run 7
  target_name: screen
  annotations:
    lab: b12
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("GOINGEST_IMPORT_CHECKSUM", "md5-128")
	t.Setenv("GOINGEST_IMPORT_POLL_INTERVAL", "250ms")

	// ACT
	cfg, err := Load(New(), path)

	// ASSERT
	if !assert.NoErrorf(t, err, "load failed") {
		return
	}
	assert.Equalf(t, 2, cfg.Scan.MaxDepth, "max depth mismatch")
	assert.Equalf(t, goingest.ChecksumMD5, cfg.Checksum(), "checksum mismatch")
	assert.Equalf(t, 250*time.Millisecond, cfg.Import.PollInterval, "poll interval mismatch")
	assert.Equalf(t, "images", cfg.Repository.S3.Bucket, "bucket mismatch")
	m := cfg.UnitMetadata()
	assert.Equalf(t, "run 7", m.Name, "metadata name mismatch")
	assert.Equalf(t, map[string]string{"lab": "b12"}, m.Annotations, "annotations mismatch")
	assert.Equalf(t, &goingest.TargetRef{Kind: "Dataset", Name: "screen"}, m.Target, "target mismatch")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(New(), "")
		require.NoError(t, err)
		return cfg
	}
	cases := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "UnknownChecksum", modify: func(c *Config) { c.Import.Checksum = "SHA-256" }},
		{name: "ZeroDepth", modify: func(c *Config) { c.Scan.MaxDepth = 0 }},
		{name: "UnknownRepository", modify: func(c *Config) { c.Repository.Kind = "ftp" }},
		{name: "S3WithoutBucket", modify: func(c *Config) { c.Repository.Kind = "s3" }},
		{name: "MySQLWithoutHost", modify: func(c *Config) { c.Tracker.Kind = "mysql" }},
		{name: "CatalogWithoutServer", modify: func(c *Config) { c.Catalog.Enabled = true }},
		{name: "InvalidCatalogURL", modify: func(c *Config) { c.Catalog.ServerURL = "not a url" }},
		{name: "UnknownLogLevel", modify: func(c *Config) { c.Log.Level = "verbose" }},
		{name: "TargetWithoutKind", modify: func(c *Config) {
			c.Metadata.TargetKind = ""
			c.Metadata.TargetName = "x"
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			// ARRANGE
			cfg := valid()
			c.modify(cfg)

			// ACT
			err := cfg.Validate()

			// ASSERT
			assert.Errorf(t, err, "invalid config expected to be rejected")
		})
	}
}

func TestLogLogger(t *testing.T) {
	logger, err := Log{Level: "debug", Development: true}.Logger()
	if assert.NoErrorf(t, err, "logger build failed") {
		assert.Truef(t, logger.Core().Enabled(-1), "debug level expected to be enabled")
	}
	_, err = Log{Level: "loud"}.Logger()
	assert.Errorf(t, err, "unknown level expected to be rejected")
}
