package main

import (
	"os"
	"strconv"
	"strings"
)

// envString/envIntWithFallback/envBoolWithFallback mirror the daemon
// composition layer's env-var config style: trimmed os.Getenv reads with an
// explicit fallback rather than a config struct with struct tags.
func envString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntWithFallback(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoolWithFallback(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// daemonConfig collects every env-var-driven knob the contactbookd binary
// reads at startup.
type daemonConfig struct {
	storagePath        string
	storagePassphrase  string
	identityPassword   string
	logLevel           string
	metricsBindAddress string
	displayName        string
	backupFilePath     string
	linkRequestRPS     int
	linkRequestBurst   int
	metricsEnabled     bool
}

func loadConfigFromEnv() daemonConfig {
	return daemonConfig{
		storagePath:        envString("CONTACTBOOK_STORAGE_PATH", "./contactbook.db"),
		storagePassphrase:  envString("CONTACTBOOK_STORAGE_PASSPHRASE", ""),
		identityPassword:   envString("CONTACTBOOK_IDENTITY_PASSWORD", ""),
		logLevel:           envString("CONTACTBOOK_LOG_LEVEL", "info"),
		metricsBindAddress: envString("CONTACTBOOK_METRICS_ADDR", "127.0.0.1:9464"),
		displayName:        envString("CONTACTBOOK_DISPLAY_NAME", "contactbookd"),
		backupFilePath:     envString("CONTACTBOOK_BACKUP_FILE", ""),
		linkRequestRPS:     envIntWithFallback("CONTACTBOOK_LINK_REQUEST_RPS", 1),
		linkRequestBurst:   envIntWithFallback("CONTACTBOOK_LINK_REQUEST_BURST", 3),
		metricsEnabled:     envBoolWithFallback("CONTACTBOOK_METRICS_ENABLED", true),
	}
}
