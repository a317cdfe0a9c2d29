// Package config loads etc/vox.yaml and .env into the settings every component
// of the daemon is built from.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vassist/internal/audio"
	"vassist/internal/catalog"
	"vassist/internal/executor"
	"vassist/internal/memory"
	"vassist/internal/nlu"
	"vassist/internal/orchestrator"
	"vassist/internal/session"
	"vassist/pkg/command"
)

const DefaultPath = "etc/vox.yaml"

const (
	defaultLogLevel        = "info"
	defaultDecisionTimeout = 8 * time.Second
	defaultBreakerCooldown = 30 * time.Second
	defaultBreakerFailures = 3
	defaultConfirmTimeout  = 15 * time.Second
	defaultExecTimeout     = 10 * time.Second
	defaultMaxAlternatives = 3
	defaultMemoryPath      = "memory.json"
	defaultBusURL          = "ws://localhost:8092/ws"
	defaultHubURL          = "ws://localhost:8092"
	defaultShard           = "vox"
	defaultBusTimeout      = 5 * time.Second
	defaultBusReconnect    = 3
	defaultDuckFactor      = 0.3
	defaultDuckFade        = 300 * time.Millisecond

	envAPIKey         = "OPENAI_API_KEY"
	envLLMBaseURL     = "VOX_LLM_BASE_URL"
	envLLMModel       = "VOX_LLM_MODEL"
	envAllowExecution = "VOX_ALLOW_EXECUTION"
	envRedisURL       = "VOX_REDIS_URL"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

type Config struct {
	WakeWord        string         `yaml:"wake_word"`
	Policy          command.Policy `yaml:"policy"`
	AllowTTS        bool           `yaml:"allow_tts"`
	LogLevel        string         `yaml:"log_level"`
	MetricsAddr     string         `yaml:"metrics_addr"`
	Chime           string         `yaml:"chime"`
	ConfirmTimeout  time.Duration  `yaml:"-"`
	MaxAlternatives int            `yaml:"max_alternatives"`

	LLM      LLMConfig      `yaml:"llm"`
	Executor ExecutorConfig `yaml:"executor"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Memory   MemoryConfig   `yaml:"memory"`
	Bus      BusConfig      `yaml:"bus"`
	Mixer    MixerConfig    `yaml:"mixer"`

	confirmTimeoutRaw string
}

// MixerConfig enables pactl ducking during questions and local volume control.
type MixerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DuckFactor float64       `yaml:"duck_factor"`
	MinVolume  int           `yaml:"min_volume"`
	Fade       time.Duration `yaml:"-"`
	Step       int           `yaml:"step"`

	fadeRaw string
}

type LLMConfig struct {
	Enabled         bool          `yaml:"enabled"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	Proxy           string        `yaml:"proxy"`
	DecisionTimeout time.Duration `yaml:"-"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"-"`
	Debug           bool          `yaml:"debug"`

	decisionTimeoutRaw string
	breakerCooldownRaw string
}

type ExecutorConfig struct {
	ExecTimeout time.Duration `yaml:"-"`
	SearchURL   string        `yaml:"search_url"`

	execTimeoutRaw string
}

type CatalogConfig struct {
	Sites map[string]string      `yaml:"sites"`
	Apps  map[string]catalog.App `yaml:"apps"`
}

type MemoryConfig struct {
	Backend  memory.Backend `yaml:"backend"`
	Path     string         `yaml:"path"`
	RedisURL string         `yaml:"redis_url"`
	Prefix   string         `yaml:"prefix"`
	TTL      time.Duration  `yaml:"-"`

	ttlRaw string
}

// BusConfig covers both the speech bus (URL) and the protocol hub (HubURL) that
// backend shards listen on. Routes name the shard performing each action kind.
type BusConfig struct {
	URL       string            `yaml:"url"`
	HubURL    string            `yaml:"hub_url"`
	Shard     string            `yaml:"shard"`
	Reconnect uint              `yaml:"reconnect"`
	Timeout   time.Duration     `yaml:"-"`
	Routes    map[string]string `yaml:"routes"`

	timeoutRaw string
}

type rawConfig struct {
	WakeWord        string         `yaml:"wake_word"`
	Policy          command.Policy `yaml:"policy"`
	AllowTTS        bool           `yaml:"allow_tts"`
	LogLevel        string         `yaml:"log_level"`
	MetricsAddr     string         `yaml:"metrics_addr"`
	Chime           string         `yaml:"chime"`
	ConfirmTimeout  string         `yaml:"confirm_timeout"`
	MaxAlternatives int            `yaml:"max_alternatives"`

	LLM struct {
		Enabled         bool   `yaml:"enabled"`
		APIKey          string `yaml:"api_key"`
		BaseURL         string `yaml:"base_url"`
		Model           string `yaml:"model"`
		Proxy           string `yaml:"proxy"`
		DecisionTimeout string `yaml:"decision_timeout"`
		BreakerFailures uint32 `yaml:"breaker_failures"`
		BreakerCooldown string `yaml:"breaker_cooldown"`
		Debug           bool   `yaml:"debug"`
	} `yaml:"llm"`

	Executor struct {
		ExecTimeout string `yaml:"exec_timeout"`
		SearchURL   string `yaml:"search_url"`
	} `yaml:"executor"`

	Catalog CatalogConfig `yaml:"catalog"`

	Memory struct {
		Backend  memory.Backend `yaml:"backend"`
		Path     string         `yaml:"path"`
		RedisURL string         `yaml:"redis_url"`
		Prefix   string         `yaml:"prefix"`
		TTL      string         `yaml:"ttl"`
	} `yaml:"memory"`

	Bus struct {
		URL       string            `yaml:"url"`
		HubURL    string            `yaml:"hub_url"`
		Shard     string            `yaml:"shard"`
		Reconnect uint              `yaml:"reconnect"`
		Timeout   string            `yaml:"timeout"`
		Routes    map[string]string `yaml:"routes"`
	} `yaml:"bus"`

	Mixer struct {
		Enabled    bool    `yaml:"enabled"`
		DuckFactor float64 `yaml:"duck_factor"`
		MinVolume  int     `yaml:"min_volume"`
		Fade       string  `yaml:"fade"`
		Step       int     `yaml:"step"`
	} `yaml:"mixer"`
}

// LoadEnv reads a dotenv file into the process environment. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from disk.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &Config{
		WakeWord:          raw.WakeWord,
		Policy:            raw.Policy,
		AllowTTS:          raw.AllowTTS,
		LogLevel:          raw.LogLevel,
		MetricsAddr:       raw.MetricsAddr,
		Chime:             raw.Chime,
		MaxAlternatives:   raw.MaxAlternatives,
		confirmTimeoutRaw: raw.ConfirmTimeout,
		LLM: LLMConfig{
			Enabled:            raw.LLM.Enabled,
			APIKey:             raw.LLM.APIKey,
			BaseURL:            raw.LLM.BaseURL,
			Model:              raw.LLM.Model,
			Proxy:              raw.LLM.Proxy,
			BreakerFailures:    raw.LLM.BreakerFailures,
			Debug:              raw.LLM.Debug,
			decisionTimeoutRaw: raw.LLM.DecisionTimeout,
			breakerCooldownRaw: raw.LLM.BreakerCooldown,
		},
		Executor: ExecutorConfig{
			SearchURL:      raw.Executor.SearchURL,
			execTimeoutRaw: raw.Executor.ExecTimeout,
		},
		Catalog: raw.Catalog,
		Memory: MemoryConfig{
			Backend:  raw.Memory.Backend,
			Path:     raw.Memory.Path,
			RedisURL: raw.Memory.RedisURL,
			Prefix:   raw.Memory.Prefix,
			ttlRaw:   raw.Memory.TTL,
		},
		Bus: BusConfig{
			URL:        raw.Bus.URL,
			HubURL:     raw.Bus.HubURL,
			Shard:      raw.Bus.Shard,
			Reconnect:  raw.Bus.Reconnect,
			Routes:     raw.Bus.Routes,
			timeoutRaw: raw.Bus.Timeout,
		},
		Mixer: MixerConfig{
			Enabled:    raw.Mixer.Enabled,
			DuckFactor: raw.Mixer.DuckFactor,
			MinVolume:  raw.Mixer.MinVolume,
			Step:       raw.Mixer.Step,
			fadeRaw:    raw.Mixer.Fade,
		},
	}

	cfg.applyDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.WakeWord) == "" {
		c.WakeWord = session.DefaultWakeWord
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MaxAlternatives == 0 {
		c.MaxAlternatives = defaultMaxAlternatives
	}
	if c.LLM.BreakerFailures == 0 {
		c.LLM.BreakerFailures = defaultBreakerFailures
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = memory.BackendFile
	}
	if c.Memory.Backend == memory.BackendFile && c.Memory.Path == "" {
		c.Memory.Path = defaultMemoryPath
	}
	if c.Bus.URL == "" {
		c.Bus.URL = defaultBusURL
	}
	if c.Mixer.DuckFactor == 0 {
		c.Mixer.DuckFactor = defaultDuckFactor
	}
	if c.Bus.HubURL == "" {
		c.Bus.HubURL = defaultHubURL
	}
	if c.Bus.Shard == "" {
		c.Bus.Shard = defaultShard
	}
	if c.Bus.Reconnect == 0 {
		c.Bus.Reconnect = defaultBusReconnect
	}
}

func (c *Config) applyEnvOverrides() error {
	c.WakeWord = os.ExpandEnv(c.WakeWord)
	c.MetricsAddr = os.ExpandEnv(c.MetricsAddr)
	c.Chime = os.ExpandEnv(c.Chime)

	c.LLM.APIKey = expandAndOverride(c.LLM.APIKey, envAPIKey)
	c.LLM.BaseURL = expandAndOverride(c.LLM.BaseURL, envLLMBaseURL)
	c.LLM.Model = expandAndOverride(c.LLM.Model, envLLMModel)
	c.LLM.Proxy = os.ExpandEnv(c.LLM.Proxy)

	c.Executor.SearchURL = os.ExpandEnv(c.Executor.SearchURL)
	c.Memory.Path = os.ExpandEnv(c.Memory.Path)
	c.Memory.RedisURL = expandAndOverride(c.Memory.RedisURL, envRedisURL)
	c.Bus.URL = os.ExpandEnv(c.Bus.URL)
	c.Bus.HubURL = os.ExpandEnv(c.Bus.HubURL)

	if raw := os.Getenv(envAllowExecution); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: invalid %s %q: %w", envAllowExecution, raw, err)
		}
		c.Policy.AllowExecution = v
	}
	return nil
}

func (c *Config) parseDurations() error {
	var err error
	if c.ConfirmTimeout, err = parseDuration("confirm_timeout", c.confirmTimeoutRaw, defaultConfirmTimeout); err != nil {
		return err
	}
	if c.LLM.DecisionTimeout, err = parseDuration("llm.decision_timeout", c.LLM.decisionTimeoutRaw, defaultDecisionTimeout); err != nil {
		return err
	}
	if c.LLM.BreakerCooldown, err = parseDuration("llm.breaker_cooldown", c.LLM.breakerCooldownRaw, defaultBreakerCooldown); err != nil {
		return err
	}
	if c.Executor.ExecTimeout, err = parseDuration("executor.exec_timeout", c.Executor.execTimeoutRaw, defaultExecTimeout); err != nil {
		return err
	}
	if c.Bus.Timeout, err = parseDuration("bus.timeout", c.Bus.timeoutRaw, defaultBusTimeout); err != nil {
		return err
	}
	if c.Mixer.Fade, err = parseDuration("mixer.fade", c.Mixer.fadeRaw, defaultDuckFade); err != nil {
		return err
	}
	// zero ttl means keys never expire
	if c.Memory.TTL, err = parseDuration("memory.ttl", c.Memory.ttlRaw, 0); err != nil {
		return err
	}
	return nil
}

// Validate checks the loaded values. It is also called after CLI overrides are applied.
func (c *Config) Validate() error {
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.WakeWord) == "" {
		return errors.New("config: wake_word is required")
	}
	if c.MaxAlternatives < 0 {
		return errors.New("config: max_alternatives cannot be negative")
	}
	if c.ConfirmTimeout <= 0 || c.LLM.DecisionTimeout <= 0 || c.Executor.ExecTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.LLM.Enabled && strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("config: llm.api_key (or %s) is required when llm is enabled", envAPIKey)
	}
	if s := c.Executor.SearchURL; s != "" && !strings.Contains(s, "%s") {
		return fmt.Errorf("config: executor.search_url %q must contain %%s", s)
	}

	switch c.Memory.Backend {
	case memory.BackendFile:
		if c.Memory.Path == "" {
			return errors.New("config: memory.path is required for the file backend")
		}
	case memory.BackendRedis:
		if c.Memory.RedisURL == "" {
			return fmt.Errorf("config: memory.redis_url (or %s) is required for the redis backend", envRedisURL)
		}
	case memory.BackendMem, memory.BackendNone:
	default:
		return fmt.Errorf("config: unknown memory backend %q", c.Memory.Backend)
	}

	for name, app := range c.Catalog.Apps {
		if app.Kind != catalog.LaunchApp && app.Kind != catalog.LaunchProtocol {
			return fmt.Errorf("config: app %q: type must be %q or %q", name, catalog.LaunchApp, catalog.LaunchProtocol)
		}
		if strings.TrimSpace(app.Value) == "" {
			return fmt.Errorf("config: app %q: value is required", name)
		}
	}

	if c.Mixer.DuckFactor < 0 || c.Mixer.DuckFactor > 1 {
		return fmt.Errorf("config: mixer.duck_factor must be within [0,1], got %v", c.Mixer.DuckFactor)
	}

	if _, err := c.Routes(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SessionConfig() session.Config {
	return session.Config{WakeWord: c.WakeWord, AlwaysListen: c.Policy.AlwaysListen}
}

func (c *Config) ParserConfig() nlu.Config {
	return nlu.Config{
		DecisionTimeout: c.LLM.DecisionTimeout,
		BreakerFailures: c.LLM.BreakerFailures,
		BreakerCooldown: c.LLM.BreakerCooldown,
		DebugLLM:        c.LLM.Debug,
	}
}

func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{ConfirmTimeout: c.ConfirmTimeout, MaxAlternatives: c.MaxAlternatives}
}

func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{ExecTimeout: c.Executor.ExecTimeout, SearchURL: c.Executor.SearchURL}
}

func (c *Config) MemoryConfig() memory.Config {
	return memory.Config{
		Backend:  c.Memory.Backend,
		Path:     c.Memory.Path,
		RedisURL: c.Memory.RedisURL,
		Prefix:   c.Memory.Prefix,
		TTL:      c.Memory.TTL,
	}
}

func (c *Config) MixerConfig() audio.Config {
	return audio.Config{
		SelfNames: []string{"vox", "espeak"},
		Factor:    c.Mixer.DuckFactor,
		MinVolume: c.Mixer.MinVolume,
		Fade:      c.Mixer.Fade,
		Step:      c.Mixer.Step,
	}
}

// BuildCatalog overlays the configured sites and apps on the built-in ones.
func (c *Config) BuildCatalog() *catalog.Catalog {
	return catalog.New(c.Catalog.Sites, c.Catalog.Apps)
}

// Routes maps action kinds to the backend shard that performs them.
func (c *Config) Routes() (map[command.Kind]string, error) {
	routes := make(map[command.Kind]string, len(c.Bus.Routes))
	for name, shard := range c.Bus.Routes {
		k, ok := command.ParseKind(name)
		if !ok || k == command.KindUnknown {
			return nil, fmt.Errorf("config: bus.routes: unknown kind %q", name)
		}
		if strings.TrimSpace(shard) == "" {
			return nil, fmt.Errorf("config: bus.routes: empty shard for %q", name)
		}
		routes[k] = strings.TrimSpace(shard)
	}
	return routes, nil
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(os.ExpandEnv(raw))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s cannot be negative, got %s", name, d)
	}
	return d, nil
}

func expandAndOverride(current, envKey string) string {
	current = os.ExpandEnv(current)
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return current
}
