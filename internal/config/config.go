package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	GitHub struct {
		APIBase    string `koanf:"api_base"`
		GraphQLURL string `koanf:"graphql_url"`
		Token      string `koanf:"token"`
	} `koanf:"github"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Sync struct {
		PerPage        int `koanf:"per_page"`
		StaggerEvery   int `koanf:"stagger_every"`
		FetchWorkers   int `koanf:"fetch_workers"`
		RequestsPerSec int `koanf:"requests_per_sec"`
	} `koanf:"sync"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"github.api_base":       "https://api.github.com",
		"github.graphql_url":    "https://api.github.com/graphql",
		"sync.per_page":         100,
		"sync.stagger_every":    500,
		"sync.fetch_workers":    4,
		"sync.requests_per_sec": 10,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./prsync.toml", "$HOME/.prsync.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix PRSYNC_
	k.Load(env.Provider("PRSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PRSYNC_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# prsync Configuration

[github]
api_base = "https://api.github.com"
token = "your-github-token"

[database]
url = "postgres://localhost:5432/prsync"

[sync]
per_page = 100
stagger_every = 500
fetch_workers = 4
requests_per_sec = 10
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitHub.Token == "" {
		return fmt.Errorf("github token is required")
	}

	if config.GitHub.APIBase == "" {
		return fmt.Errorf("github api_base is required")
	}

	if config.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	if config.Sync.PerPage <= 0 || config.Sync.PerPage > 100 {
		return fmt.Errorf("sync per_page must be between 1 and 100")
	}

	return nil
}
