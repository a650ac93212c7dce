package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; existing variables are never overwritten.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := getEnv("VINTEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("VINTEL_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := getEnv("VINTEL_CACHE_DSN"); v != "" {
		cfg.Cache.DSN = v
	}
	if v := getEnv("VINTEL_KAFKA_BROKERS"); v != "" {
		brokers := splitList(v)
		cfg.Ingest.Kafka.Brokers = brokers
		cfg.Notify.Kafka.Brokers = brokers
	}
	if v := getEnv("VINTEL_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
