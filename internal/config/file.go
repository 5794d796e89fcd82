package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileOverlay mirrors the subset of Config a desk deployment may pin in YAML.
// Zero values leave the environment-derived setting untouched.
type fileOverlay struct {
	LogLevel string     `yaml:"log_level"`
	Desk     DeskConfig `yaml:"desk"`
	Sync     SyncConfig `yaml:"sync"`
	S3       S3Config   `yaml:"s3"`
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var o fileOverlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	mergeFile(cfg, &o)
	return nil
}

func mergeFile(cfg *Config, o *fileOverlay) {
	setString(&cfg.LogLevel, o.LogLevel)

	setString(&cfg.Desk.Port, o.Desk.Port)
	setString(&cfg.Desk.ID, o.Desk.ID)
	setString(&cfg.Desk.CachePath, o.Desk.CachePath)
	setString(&cfg.Desk.Broadcast, o.Desk.Broadcast)
	if o.Desk.CacheQuotaBytes > 0 {
		cfg.Desk.CacheQuotaBytes = o.Desk.CacheQuotaBytes
	}

	setString(&cfg.Sync.Backend, o.Sync.Backend)
	setString(&cfg.Sync.AuthorityURL, o.Sync.AuthorityURL)
	setString(&cfg.Sync.Token, o.Sync.Token)
	setDuration(&cfg.Sync.Timeout, o.Sync.Timeout)
	setDuration(&cfg.Sync.PollInterval, o.Sync.PollInterval)
	setDuration(&cfg.Sync.Debounce, o.Sync.Debounce)
	setDuration(&cfg.Sync.SkewBuffer, o.Sync.SkewBuffer)
	if o.Sync.Signals {
		cfg.Sync.Signals = true
	}

	setString(&cfg.S3.Bucket, o.S3.Bucket)
	setString(&cfg.S3.Region, o.S3.Region)
	setString(&cfg.S3.Endpoint, o.S3.Endpoint)
	setString(&cfg.S3.AccessKeyID, o.S3.AccessKeyID)
	setString(&cfg.S3.SecretAccessKey, o.S3.SecretAccessKey)
	setString(&cfg.S3.PublicBaseURL, o.S3.PublicBaseURL)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
