// Package config handles configuration for selfheal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/vision"
)

// Memory backends.
const (
	BackendMemory = "memory" // in-process, lost on exit
	BackendJSON   = "json"   // in-process, loaded from and saved to a snapshot file
	BackendSQLite = "sqlite" // durable sqlite database
)

// Vision providers.
const (
	ProviderHTTP   = "http"   // detection, grounding and segmentation services
	ProviderOpenAI = "openai" // HTTP detection and segmentation, OpenAI-compatible grounding
	ProviderMock   = "mock"   // scripted clients that never resolve, for dry runs
	ProviderNone   = "none"   // vision strategies disabled
)

// Config represents the workspace configuration (selfheal.yaml).
type Config struct {
	// Plan selection
	Plans       []string `yaml:"plans"`       // Plan files or directories
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	Platform  string `yaml:"platform"`  // web, mock
	OutputDir string `yaml:"outputDir"` // Reports and heal screenshots
	LogLevel  string `yaml:"logLevel"`

	Memory MemoryConfig `yaml:"memory"`
	VMS    VMSConfig    `yaml:"vms"`
	Heal   HealConfig   `yaml:"heal"`
	Vision VisionConfig `yaml:"vision"`
	Web    WebConfig    `yaml:"web"`
	Server ServerConfig `yaml:"server"`
}

// MemoryConfig selects the locator memory backend.
type MemoryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // Defaults under <home>/data
}

// VMSConfig configures visual memory.
type VMSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`     // Badger directory; defaults under <home>/data
	InMemory bool   `yaml:"inMemory"` // Keep the index for this process only
	TopK     int    `yaml:"topK"`
}

// HealConfig configures the cascade.
type HealConfig struct {
	Strategies   []string        `yaml:"strategies"`
	Thresholds   heal.Thresholds `yaml:"thresholds"`
	MaxReplays   int             `yaml:"maxReplays"`
	HintFraction float64         `yaml:"hintFraction"`
}

// VisionConfig configures the external vision services.
type VisionConfig struct {
	Provider     string           `yaml:"provider"`
	ImageMode    vision.ImageMode `yaml:"imageMode"`
	Detection    ServiceConfig    `yaml:"detection"`
	Grounding    ServiceConfig    `yaml:"grounding"`
	Segmentation ServiceConfig    `yaml:"segmentation"`
	OpenAI       OpenAIConfig     `yaml:"openai"`
}

// ServiceConfig is one HTTP service endpoint.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// OpenAIConfig configures the OpenAI-compatible grounder. The API key is
// read from OPENAI_API_KEY, never from the file.
type OpenAIConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebConfig configures the browser driver.
type WebConfig struct {
	URL       string `yaml:"url"`
	RemoteURL string `yaml:"remoteUrl"` // Connect to a running browser instead of launching one
	Headless  bool   `yaml:"headless"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
}

// ServerConfig configures the diagnostics server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Platform: "web",
		LogLevel: "info",
		Memory:   MemoryConfig{Backend: BackendSQLite},
		VMS:      VMSConfig{Enabled: true, TopK: 5},
		Heal: HealConfig{
			Thresholds:   heal.DefaultThresholds(),
			HintFraction: 0.06,
		},
		Vision: VisionConfig{
			Provider:     ProviderHTTP,
			ImageMode:    vision.ImageBase64,
			Detection:    ServiceConfig{URL: "http://localhost:8001", Timeout: vision.DefaultTimeout},
			Grounding:    ServiceConfig{URL: "http://localhost:8002", Timeout: vision.DefaultTimeout},
			Segmentation: ServiceConfig{URL: "http://localhost:8003", Timeout: vision.DefaultTimeout},
			OpenAI:       OpenAIConfig{Model: vision.DefaultOpenAIModel, Timeout: vision.DefaultTimeout},
		},
		Web:    WebConfig{Headless: true, Width: 1280, Height: 800},
		Server: ServerConfig{Addr: "127.0.0.1:9464"},
	}
}

// Load loads configuration from a file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir looks for selfheal.yaml or selfheal.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"selfheal.yaml", "selfheal.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found
	return Default(), nil
}

// Validate checks the configuration for values nothing downstream can use.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case BackendMemory, BackendJSON, BackendSQLite:
	default:
		return invalid("memory.backend %q (want memory, json or sqlite)", c.Memory.Backend)
	}

	switch c.Vision.Provider {
	case ProviderHTTP, ProviderOpenAI, ProviderMock, ProviderNone:
	default:
		return invalid("vision.provider %q (want http, openai, mock or none)", c.Vision.Provider)
	}

	switch c.Vision.ImageMode {
	case vision.ImageBase64, vision.ImagePath:
	default:
		return invalid("vision.imageMode %q (want base64 or path)", c.Vision.ImageMode)
	}

	if _, err := c.Strategies(); err != nil {
		return invalid("heal.strategies: %v", err)
	}

	th := c.Heal.Thresholds
	for name, v := range map[string]float64{"vgs": th.VGS, "sam3": th.SAM3, "vms": th.VMS} {
		// The engine treats a zero gate as unset, so an explicit 0 would
		// silently become the default.
		if v <= 0 || v > 1 {
			return invalid("heal.thresholds.%s %.2f out of (0, 1]", name, v)
		}
	}

	if c.Heal.HintFraction < 0 || c.Heal.HintFraction > 1 {
		return invalid("heal.hintFraction %.2f out of [0, 1]", c.Heal.HintFraction)
	}
	if c.Heal.MaxReplays < 0 {
		return invalid("heal.maxReplays must not be negative")
	}
	if c.VMS.TopK < 0 {
		return invalid("vms.topK must not be negative")
	}
	return nil
}

// Strategies returns the enabled strategies in cascade order. Nil means all.
func (c *Config) Strategies() ([]heal.Strategy, error) {
	if len(c.Heal.Strategies) == 0 {
		return nil, nil
	}
	enabled := make(map[heal.Strategy]bool, len(c.Heal.Strategies))
	for _, s := range c.Heal.Strategies {
		st, err := heal.ParseStrategy(s)
		if err != nil {
			return nil, err
		}
		enabled[st] = true
	}
	out := make([]heal.Strategy, 0, len(enabled))
	for _, st := range heal.AllStrategies {
		if enabled[st] {
			out = append(out, st)
		}
	}
	return out, nil
}

// MemoryPath returns the memory file, defaulting under the home directory.
func (c *Config) MemoryPath() string {
	if c.Memory.Path != "" {
		return c.Memory.Path
	}
	switch c.Memory.Backend {
	case BackendJSON:
		return filepath.Join(GetDataDir(), "memory.json")
	case BackendSQLite:
		return filepath.Join(GetDataDir(), "memory.db")
	}
	return ""
}

// VMSPath returns the badger directory, or "" for an in-memory index.
func (c *Config) VMSPath() string {
	if c.VMS.InMemory {
		return ""
	}
	if c.VMS.Path != "" {
		return c.VMS.Path
	}
	return filepath.Join(GetDataDir(), "vms")
}

// ReportDir returns the output directory, defaulting under the home directory.
func (c *Config) ReportDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return GetReportsDir()
}

func invalid(format string, args ...interface{}) error {
	return core.ErrInvalidConfig.WithMessage(fmt.Sprintf(format, args...))
}
