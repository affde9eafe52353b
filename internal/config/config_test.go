package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	data := `profile: notion
host: 0.0.0.0
port: 9100
model: openai/gpt-4o
runTimeout: 45s
maxSteps: 6
session:
  backend: kuzu
  path: /var/lib/a2abridge
mcp:
  command: node
  args: [server.js]
  env:
    DEBUG: "1"
agentUrls:
  elevenlabs: http://tts:8003
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a2abridge.yaml"), []byte(data), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "notion", cfg.Profile)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, 45*time.Second, cfg.RunTimeout)
	assert.Equal(t, 6, cfg.MaxSteps)
	assert.Equal(t, BackendKuzu, cfg.Session.Backend)
	assert.Equal(t, "/var/lib/a2abridge", cfg.Session.Path)
	assert.Equal(t, "node", cfg.MCP.Command)
	assert.Equal(t, []string{"server.js"}, cfg.MCP.Args)
	assert.Equal(t, "1", cfg.MCP.Env["DEBUG"])
	assert.Equal(t, "http://tts:8003", cfg.AgentURL("elevenlabs", 8003))
}

func TestLoad_PrefersYML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a2abridge.yml"), []byte("port: 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a2abridge.yaml"), []byte("port: 2"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Port)
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a2abridge.yml"), []byte("port: [oops"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a2abridge.yml")
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{Model: "from-file", Profile: "notion"}
	err := cfg.ApplyEnv(envMap(map[string]string{
		"ELEVENLABS_API_KEY":   "el-key",
		"GOOGLE_API_KEY":       "g-key",
		"ADK_MODEL":            "gemini-2.0-flash",
		"A2A_PROFILE":          "elevenlabs",
		"A2A_LOG_LEVEL":        "debug",
		"A2A_RUN_TIMEOUT":      "2m",
		"NOTION_AGENT_A2A_URL": "http://notion:8002",
	}))
	require.NoError(t, err)

	assert.Equal(t, "el-key", cfg.Secret("ELEVENLABS_API_KEY"))
	assert.Equal(t, "g-key", cfg.Secret("GOOGLE_API_KEY"))
	assert.Empty(t, cfg.Secret("NOTION_API_KEY"))
	assert.Equal(t, "gemini-2.0-flash", cfg.Model)
	assert.Equal(t, "elevenlabs", cfg.Profile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.RunTimeout)
	assert.Equal(t, "http://notion:8002", cfg.AgentURL("notion", 8002))
	assert.Equal(t, "http://localhost:8003", cfg.AgentURL("elevenlabs", 8003))
}

func TestApplyEnv_BadTimeout(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyEnv(envMap(map[string]string{"A2A_RUN_TIMEOUT": "soon"}))
	assert.Error(t, err)
}

func TestBindFlags_OverrideFileAndEnv(t *testing.T) {
	cfg := &Config{Profile: "notion", Port: 9100, Model: "gemini-2.0-flash"}
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"--port", "9200", "--run-timeout", "5s", "--session-backend", "kuzu"}))
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.RunTimeout)
	assert.Equal(t, BackendKuzu, cfg.Session.Backend)
	assert.Equal(t, "notion", cfg.Profile, "unset flags keep earlier layers")
	assert.Equal(t, "gemini-2.0-flash", cfg.Model)
}

func TestResolveListen(t *testing.T) {
	env := envMap(map[string]string{
		"A2A_ELEVENLABS_HOST": "0.0.0.0",
		"A2A_ELEVENLABS_PORT": "8103",
	})

	t.Run("defaults", func(t *testing.T) {
		cfg := &Config{Profile: "elevenlabs"}
		require.NoError(t, cfg.ResolveListen(envMap(nil), nil, "localhost", 8003))
		assert.Equal(t, "localhost:8003", cfg.Addr())
	})

	t.Run("env beats file", func(t *testing.T) {
		cfg := &Config{Profile: "elevenlabs", Host: "file-host", Port: 1}
		require.NoError(t, cfg.ResolveListen(env, nil, "localhost", 8003))
		assert.Equal(t, "0.0.0.0:8103", cfg.Addr())
	})

	t.Run("flag beats env", func(t *testing.T) {
		cfg := &Config{Profile: "elevenlabs"}
		fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
		cfg.BindFlags(fs)
		require.NoError(t, fs.Parse([]string{"--port", "9999"}))

		require.NoError(t, cfg.ResolveListen(env, fs, "localhost", 8003))
		assert.Equal(t, "0.0.0.0:9999", cfg.Addr())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := &Config{Profile: "notion"}
		err := cfg.ResolveListen(envMap(map[string]string{"A2A_NOTION_PORT": "http"}), nil, "localhost", 8002)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "A2A_NOTION_PORT")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero value"},
		{name: "kuzu", cfg: Config{Session: SessionConfig{Backend: BackendKuzu}}},
		{name: "bad port", cfg: Config{Port: 70000}, wantErr: "port"},
		{name: "negative timeout", cfg: Config{RunTimeout: -time.Second}, wantErr: "timeout"},
		{name: "negative steps", cfg: Config{MaxSteps: -1}, wantErr: "max steps"},
		{name: "unknown backend", cfg: Config{Session: SessionConfig{Backend: "redis"}}, wantErr: "redis"},
		{name: "bad level", cfg: Config{LogLevel: "loud"}, wantErr: "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevel(t *testing.T) {
	lvl, err := (&Config{}).Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = (&Config{LogLevel: "WARN"}).Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
