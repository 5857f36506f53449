package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var weakSecrets = []string{
	"password", "secret", "changeme", "admin", "root",
	"postgres", "123456", "qwerty", "default", "guest",
}

// ValidateForProduction rejects development defaults that must never reach a
// production deployment: weak database/keychain secrets, disabled TLS, and
// missing KMS configuration when KMS is requested.
func ValidateForProduction(cfg *Config) error {
	var errs []string

	if cfg.Database.Password == "" || containsWeak(cfg.Database.Password) {
		errs = append(errs, "DB_PASSWORD is empty or a known weak value")
	}
	if cfg.Database.SSLMode == "disable" {
		errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
	}
	if cfg.Keychain.UseKMS && cfg.Keychain.KMSKeyID == "" {
		errs = append(errs, "KEYCHAIN_USE_KMS=true requires KEYCHAIN_KMS_KEY_ID")
	}
	if !cfg.Keychain.UseKMS && containsWeak(cfg.Keychain.MasterKey) {
		errs = append(errs, "KEYCHAIN_MASTER_KEY looks like a development default; set KEYCHAIN_USE_KMS or rotate it")
	}
	for _, origin := range cfg.CORS.AllowedOrigins {
		if strings.Contains(origin, "localhost") {
			errs = append(errs, fmt.Sprintf("CORS_ALLOWED_ORIGINS contains a localhost origin: %s", origin))
		}
	}

	logProductionWarnings(cfg)

	if len(errs) > 0 {
		return fmt.Errorf("production configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func containsWeak(value string) bool {
	lower := strings.ToLower(value)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return true
		}
	}
	return false
}

func logProductionWarnings(cfg *Config) {
	if !cfg.Observability.TracingEnabled {
		slog.Warn("tracing is disabled in a production configuration")
	}
	if !cfg.Observability.SentryEnabled {
		slog.Warn("error tracking is disabled in a production configuration")
	}
	if !cfg.Notify.Enabled {
		slog.Warn("external execution-event notification is disabled")
	}
}
