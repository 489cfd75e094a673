package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized sidecar option.
type Config struct {
	// Upstream artifact configuration
	ArtifactServer  string        `mapstructure:"artifact_server"`
	ArtifactMask    string        `mapstructure:"artifact_mask"`
	CommitURLMarker string        `mapstructure:"commit_url_marker"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`

	// Storage configuration
	BuildLocation   string `mapstructure:"build_location"`
	PackageLocation string `mapstructure:"package_location"`

	// Build selection
	FetchArtifactsWhenMissing bool `mapstructure:"fetch_artifacts_when_missing"`
	FallbackToCachedBuild     bool `mapstructure:"fallback_to_cached_build"`

	// Packager configuration
	Packager         string        `mapstructure:"packager"`
	PackagerLauncher []string      `mapstructure:"packager_launcher"`
	CompileTimeout   time.Duration `mapstructure:"compile_timeout"`

	// Assembly manifest
	Manifest string `mapstructure:"manifest"`

	// API configuration
	APIPort        int      `mapstructure:"api_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogLevel       string   `mapstructure:"log_level"`
}

const (
	DefaultArtifactServer  = "https://jenkins.mono-project.com/job/test-mono-mainline-wasm/lastStableBuild/"
	DefaultArtifactMask    = "https://xamjenkinsartifact.azureedge.net/test-mono-mainline-wasm/{buildNumber}/ubuntu-1804-amd64/sdks/wasm/mono-wasm-{buildHash}.zip"
	DefaultCommitURLMarker = "github.com/mono/mono/commit/"
)

func DefaultConfig() *Config {
	return &Config{
		ArtifactServer:            DefaultArtifactServer,
		ArtifactMask:              DefaultArtifactMask,
		CommitURLMarker:           DefaultCommitURLMarker,
		DownloadTimeout:           5 * time.Minute,
		BuildLocation:             "builds",
		PackageLocation:           "output",
		FetchArtifactsWhenMissing: true,
		FallbackToCachedBuild:     true,
		Packager:                  "packager.exe",
		CompileTimeout:            10 * time.Minute,
		APIPort:                   8080,
		AllowedOrigins:            []string{"*"},
		LogLevel:                  "info",
	}
}

// Load reads configuration from defaults, an optional YAML file and
// SIDECAR_* environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("artifact_server", def.ArtifactServer)
	v.SetDefault("artifact_mask", def.ArtifactMask)
	v.SetDefault("commit_url_marker", def.CommitURLMarker)
	v.SetDefault("download_timeout", def.DownloadTimeout)
	v.SetDefault("build_location", def.BuildLocation)
	v.SetDefault("package_location", def.PackageLocation)
	v.SetDefault("fetch_artifacts_when_missing", def.FetchArtifactsWhenMissing)
	v.SetDefault("fallback_to_cached_build", def.FallbackToCachedBuild)
	v.SetDefault("packager", def.Packager)
	v.SetDefault("packager_launcher", []string{})
	v.SetDefault("compile_timeout", def.CompileTimeout)
	v.SetDefault("manifest", "")
	v.SetDefault("api_port", def.APIPort)
	v.SetDefault("allowed_origins", def.AllowedOrigins)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("sidecar")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first option that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.BuildLocation == "":
		return fmt.Errorf("build_location is required")
	case c.PackageLocation == "":
		return fmt.Errorf("package_location is required")
	case c.Packager == "":
		return fmt.Errorf("packager is required")
	case c.FetchArtifactsWhenMissing && c.ArtifactServer == "":
		return fmt.Errorf("artifact_server is required when fetch_artifacts_when_missing is set")
	case c.FetchArtifactsWhenMissing && !strings.Contains(c.ArtifactMask, "{buildHash}"):
		return fmt.Errorf("artifact_mask must contain {buildHash}")
	}
	return nil
}
