package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"moonlight/internal/domain"
)

const (
	CacheBackendJSON   = "json"
	CacheBackendSQLite = "sqlite"
)

type Config struct {
	ConfigPath      string        `env:"CONFIG_PATH"     envDefault:"config.json"`
	AssetsDir       string        `env:"ASSETS_DIR"      envDefault:"assets"`
	CacheBackend    string        `env:"CACHE_BACKEND"   envDefault:"json"`
	CachePath       string        `env:"CACHE_PATH"      envDefault:"cache/request_cache.json"`
	CacheDBPath     string        `env:"CACHE_DB_PATH"   envDefault:"cache/request_cache.sqlite"`
	ForceUpdate     bool          `env:"FORCE_UPDATE"    envDefault:"false"`
	GitHubAPIURL    string        `env:"GITHUB_API_URL"  envDefault:"https://api.github.com"`
	IssueLabel      string        `env:"ISSUE_LABEL"     envDefault:"announcement"`
	PageSize        int           `env:"PAGE_SIZE"       envDefault:"20"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT"   envDefault:"2s"`
	NamespacePrefix string        `env:"NAMESPACE_PREFIX" envDefault:"moonlight"`
	NamespaceURL    string        `env:"NAMESPACE_URL"   envDefault:"https://arksine.github.io/moonlight"`
	Schedule        string        `env:"SCHEDULE"`
}

func LoadConfig() (Config, error) {
	return env.ParseAs[Config]()
}

func (c Config) Namespace() domain.Namespace {
	return domain.Namespace{Prefix: c.NamespacePrefix, URL: c.NamespaceURL}
}
