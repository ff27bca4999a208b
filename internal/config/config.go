package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Config struct {
	LogLevel   string
	LogFormat  string
	ConfigDir  string
	DBPath     string
	MirrorAddr string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

// ResolveDBPath returns DBPath, or history.db inside configDir when unset.
func (c Config) ResolveDBPath(configDir string) string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(configDir, "history.db")
}

func loadFromEnv() Config {
	level := strings.ToLower(strings.TrimSpace(os.Getenv("PENMAN_LOG_LEVEL")))
	if level == "" {
		level = "info"
	}
	format := strings.ToLower(strings.TrimSpace(os.Getenv("PENMAN_LOG_FORMAT")))
	switch format {
	case "text", "json":
	default:
		format = "json"
	}

	return Config{
		LogLevel:   level,
		LogFormat:  format,
		ConfigDir:  strings.TrimSpace(os.Getenv("PENMAN_CONFIG_DIR")),
		DBPath:     strings.TrimSpace(os.Getenv("PENMAN_DB_PATH")),
		MirrorAddr: strings.TrimSpace(os.Getenv("PENMAN_MIRROR_ADDR")),
	}
}
