package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	BackendMemory = "memory"
	BackendKuzu   = "kuzu"
)

// Secret environment variables read by ApplyEnv.
var secretEnv = []string{
	"GOOGLE_API_KEY",
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"OPENAI_BASE_URL",
	"AWS_REGION",
	"NOTION_API_KEY",
	"ELEVENLABS_API_KEY",
}

// Config holds the settings of one a2abridge process, loaded from
// a2abridge.yml and layered with environment variables and flags.
type Config struct {
	Profile    string        `yaml:"profile,omitempty"`
	Host       string        `yaml:"host,omitempty"`
	Port       int           `yaml:"port,omitempty"`
	Model      string        `yaml:"model,omitempty"`
	RunTimeout time.Duration `yaml:"runTimeout,omitempty"`
	MaxSteps   int           `yaml:"maxSteps,omitempty"`
	LogLevel   string        `yaml:"logLevel,omitempty"`
	UserID     string        `yaml:"userId,omitempty"`

	Session SessionConfig `yaml:"session,omitempty"`

	// MCP overrides the profile's tool server when Command is set.
	MCP MCPServerConfig `yaml:"mcp,omitempty"`

	// MCPAddr serves the agent as an MCP server over streamable HTTP when
	// set.
	MCPAddr string `yaml:"mcpAddr,omitempty"`

	// AgentURLs maps profile names to the A2A URL clients reach them at.
	AgentURLs map[string]string `yaml:"agentUrls,omitempty"`

	// Secrets holds API keys. They are only read from the environment.
	Secrets map[string]string `yaml:"-"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// MCPServerConfig describes a tool server subprocess.
type MCPServerConfig struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Load attempts to read a2abridge.yml or a2abridge.yaml from the given
// directory. Returns a zero-value config (not an error) if no config file
// exists.
func Load(dir string) (*Config, error) {
	for _, name := range []string{"a2abridge.yml", "a2abridge.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		return &cfg, nil
	}
	return &Config{}, nil
}

// ApplyEnv overrides file settings with the environment variables that do
// not depend on the profile.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if c.Secrets == nil {
		c.Secrets = make(map[string]string)
	}
	for _, k := range secretEnv {
		if v := getenv(k); v != "" {
			c.Secrets[k] = v
		}
	}

	if v := getenv("A2A_PROFILE"); v != "" {
		c.Profile = v
	}
	if v := getenv("ADK_MODEL"); v != "" {
		c.Model = v
	}
	if v := getenv("A2A_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("A2A_RUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: A2A_RUN_TIMEOUT: %w", err)
		}
		c.RunTimeout = d
	}

	for env, profile := range map[string]string{
		"ELEVENLABS_AGENT_A2A_URL": "elevenlabs",
		"NOTION_AGENT_A2A_URL":     "notion",
		"HOST_AGENT_A2A_URL":       "host",
	} {
		if v := getenv(env); v != "" {
			if c.AgentURLs == nil {
				c.AgentURLs = make(map[string]string)
			}
			c.AgentURLs[profile] = v
		}
	}
	return nil
}

// BindFlags registers serve flags on fs with the current values as
// defaults, so parsed flags take precedence over file and environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Profile, "profile", c.Profile, "agent profile (elevenlabs, notion)")
	fs.StringVar(&c.Host, "host", c.Host, "host to listen on")
	fs.IntVar(&c.Port, "port", c.Port, "port to listen on")
	fs.StringVar(&c.Model, "model", c.Model, "model as provider/name")
	fs.DurationVar(&c.RunTimeout, "run-timeout", c.RunTimeout, "bound on each agent run (0 = none)")
	fs.IntVar(&c.MaxSteps, "max-steps", c.MaxSteps, "model steps per run (0 = default)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.Session.Backend, "session-backend", c.Session.Backend, "session store (memory, kuzu)")
	fs.StringVar(&c.Session.Path, "session-path", c.Session.Path, "kuzu database directory (empty = in-memory)")
	fs.StringVar(&c.MCPAddr, "mcp-addr", c.MCPAddr, "serve the agent as an MCP server over HTTP on this address")
}

// ResolveListen fills Host and Port for profile. A flag that was set wins,
// then A2A_<PROFILE>_HOST and A2A_<PROFILE>_PORT, then the file, then the
// given defaults. fs may be nil.
func (c *Config) ResolveListen(getenv func(string) string, fs *pflag.FlagSet, defHost string, defPort int) error {
	changed := func(name string) bool { return fs != nil && fs.Changed(name) }
	prefix := "A2A_" + strings.ToUpper(c.Profile) + "_"

	if !changed("host") {
		if v := getenv(prefix + "HOST"); v != "" {
			c.Host = v
		}
	}
	if !changed("port") {
		if v := getenv(prefix + "PORT"); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %sPORT: %w", prefix, err)
			}
			c.Port = p
		}
	}
	if c.Host == "" {
		c.Host = defHost
	}
	if c.Port == 0 {
		c.Port = defPort
	}
	return nil
}

// Validate checks the settings for values no component can use.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("config: negative run timeout %s", c.RunTimeout)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("config: negative max steps %d", c.MaxSteps)
	}
	switch c.Session.Backend {
	case "", BackendMemory, BackendKuzu:
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Secret returns the secret named by an environment variable, or "".
func (c *Config) Secret(env string) string {
	return c.Secrets[env]
}

// AgentURL returns the A2A URL configured for profile, falling back to the
// local default address of that profile.
func (c *Config) AgentURL(profile string, defPort int) string {
	if u, ok := c.AgentURLs[profile]; ok && u != "" {
		return u
	}
	return fmt.Sprintf("http://localhost:%d", defPort)
}
