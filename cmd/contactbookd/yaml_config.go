package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// yamlOverrides is an optional config.yaml layer on top of the env-derived
// daemonConfig, in the teacher's wakuconfig style (pointer fields so an
// absent key in the file never clobbers an env-set value with its zero
// value).
type yamlOverrides struct {
	StoragePath        *string `yaml:"storagePath"`
	LogLevel           *string `yaml:"logLevel"`
	MetricsBindAddress *string `yaml:"metricsBindAddress"`
	DisplayName        *string `yaml:"displayName"`
	BackupFilePath     *string `yaml:"backupFilePath"`
	LinkRequestRPS     *int    `yaml:"linkRequestRps"`
	LinkRequestBurst   *int    `yaml:"linkRequestBurst"`
	MetricsEnabled     *bool   `yaml:"metricsEnabled"`
}

// applyYAMLFile layers configPath's contents over cfg: every field present
// in the file wins, everything absent keeps whatever loadConfigFromEnv
// already resolved. A missing path is not an error (the flag is optional).
func applyYAMLFile(cfg daemonConfig, configPath string) (daemonConfig, error) {
	if configPath == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	var overrides yamlOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return cfg, err
	}
	if overrides.StoragePath != nil {
		cfg.storagePath = *overrides.StoragePath
	}
	if overrides.LogLevel != nil {
		cfg.logLevel = *overrides.LogLevel
	}
	if overrides.MetricsBindAddress != nil {
		cfg.metricsBindAddress = *overrides.MetricsBindAddress
	}
	if overrides.DisplayName != nil {
		cfg.displayName = *overrides.DisplayName
	}
	if overrides.BackupFilePath != nil {
		cfg.backupFilePath = *overrides.BackupFilePath
	}
	if overrides.LinkRequestRPS != nil {
		cfg.linkRequestRPS = *overrides.LinkRequestRPS
	}
	if overrides.LinkRequestBurst != nil {
		cfg.linkRequestBurst = *overrides.LinkRequestBurst
	}
	if overrides.MetricsEnabled != nil {
		cfg.metricsEnabled = *overrides.MetricsEnabled
	}
	return cfg, nil
}
