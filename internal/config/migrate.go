package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the guardianeye.yaml layout this build reads and writes.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned for a guardianeye.yaml written by a newer
// release.
var ErrUnsupportedSchema = errors.New("unsupported guardianeye.yaml schema_version")

// Migrate decodes guardianeye.yaml bytes into a Config at SchemaVersion.
// Files without schema_version predate versioning and share the v1 layout.
func Migrate(raw []byte) (*Config, error) {
	var head struct {
		SchemaVersion int `yaml:"schema_version"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("read guardianeye.yaml schema_version: %w", err)
	}

	if v := head.SchemaVersion; v < 0 || v > SchemaVersion {
		return nil, fmt.Errorf("%w: %d (this build reads up to %d)", ErrUnsupportedSchema, v, SchemaVersion)
	}
	return decodeV1(raw)
}

func decodeV1(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode guardianeye.yaml: %w", err)
	}
	cfg.SchemaVersion = SchemaVersion
	return &cfg, nil
}
