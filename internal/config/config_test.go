package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/everwalk/internal/config"
)

func TestDefault_HappyPath(t *testing.T) {
	c := qt.New(t)
	cfg := config.Default()
	c.Assert(cfg, qt.IsNotNil)
	c.Assert(cfg.Server.BaseURL, qt.Equals, "http://localhost:8080/api")
	c.Assert(cfg.Server.Timeout, qt.Equals, 30*time.Second)
	c.Assert(cfg.Output.Format, qt.Equals, "text")
	c.Assert(cfg.Log.Level, qt.Equals, "warn")
}

func TestLoad_HappyPath(t *testing.T) {
	c := qt.New(t)
	t.Setenv("EVERWALK_SERVER_URL", "")

	c.Run("non-existent file returns defaults without error", func(c *qt.C) {
		cfg, err := config.Load("/nonexistent/config.yaml")
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Server.BaseURL, qt.Equals, config.DefaultBaseURL)
		c.Assert(cfg.Output.Format, qt.Equals, "text")
	})

	tests := []struct {
		name        string
		yaml        string
		wantBaseURL string
		wantTimeout time.Duration
		wantFormat  string
		wantLevel   string
	}{
		{
			name:        "full server section overrides all fields",
			yaml:        "server:\n  base_url: https://api.everwalk.test/api/\n  timeout: 5s\n",
			wantBaseURL: "https://api.everwalk.test/api",
			wantTimeout: 5 * time.Second,
			wantFormat:  "text",
			wantLevel:   "warn",
		},
		{
			name:        "integer timeout is read as seconds",
			yaml:        "server:\n  timeout: 12\n",
			wantBaseURL: config.DefaultBaseURL,
			wantTimeout: 12 * time.Second,
			wantFormat:  "text",
			wantLevel:   "warn",
		},
		{
			name:        "output json",
			yaml:        "output:\n  format: json\n",
			wantBaseURL: config.DefaultBaseURL,
			wantTimeout: 30 * time.Second,
			wantFormat:  "json",
			wantLevel:   "warn",
		},
		{
			name:        "log level debug",
			yaml:        "log:\n  level: debug\n",
			wantBaseURL: config.DefaultBaseURL,
			wantTimeout: 30 * time.Second,
			wantFormat:  "text",
			wantLevel:   "debug",
		},
	}

	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			c.Assert(os.WriteFile(path, []byte(tt.yaml), 0o600), qt.IsNil)

			cfg, err := config.Load(path)
			c.Assert(err, qt.IsNil)
			c.Assert(cfg.Server.BaseURL, qt.Equals, tt.wantBaseURL)
			c.Assert(cfg.Server.Timeout, qt.Equals, tt.wantTimeout)
			c.Assert(cfg.Output.Format, qt.Equals, tt.wantFormat)
			c.Assert(cfg.Log.Level, qt.Equals, tt.wantLevel)
		})
	}
}

func TestLoad_FailurePath(t *testing.T) {
	c := qt.New(t)

	c.Run("bad duration returns error", func(c *qt.C) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		c.Assert(os.WriteFile(path, []byte("server:\n  timeout: soon\n"), 0o600), qt.IsNil)
		_, err := config.Load(path)
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("malformed yaml returns error", func(c *qt.C) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		c.Assert(os.WriteFile(path, []byte("server: [unterminated\n"), 0o600), qt.IsNil)
		_, err := config.Load(path)
		c.Assert(err, qt.IsNotNil)
	})
}

func TestLoad_EnvOverridesBaseURL(t *testing.T) {
	c := qt.New(t)
	t.Setenv("EVERWALK_SERVER_URL", "http://10.0.0.2:8080/api/")

	path := filepath.Join(t.TempDir(), "config.yaml")
	c.Assert(os.WriteFile(path, []byte("server:\n  base_url: http://ignored\n"), 0o600), qt.IsNil)

	cfg, err := config.Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Server.BaseURL, qt.Equals, "http://10.0.0.2:8080/api")
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	c := qt.New(t)
	t.Setenv("EVERWALK_SERVER_URL", "")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := config.Default()
	cfg.Server.BaseURL = "https://example.test/api"
	cfg.Server.Timeout = 3 * time.Second
	cfg.Output.Format = "json"
	c.Assert(config.Save(path, cfg), qt.IsNil)

	got, err := config.Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, cfg)
}

func TestResolveHome_EnvOverride(t *testing.T) {
	c := qt.New(t)

	tmp := t.TempDir()
	t.Setenv("EVERWALK_HOME", tmp)

	path, source := config.ResolveHome()
	c.Assert(source, qt.Equals, "env")
	c.Assert(path, qt.Equals, tmp)
}

func TestSetPersistedHome_HappyPath(t *testing.T) {
	c := qt.New(t)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("EVERWALK_HOME", "")

	target := filepath.Join(t.TempDir(), "everwalk-home")
	got, err := config.SetPersistedHome(target)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, target)

	path, source := config.ResolveHome()
	c.Assert(source, qt.Equals, "config")
	c.Assert(path, qt.Equals, target)
}

func TestClearPersistedHome(t *testing.T) {
	c := qt.New(t)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("EVERWALK_HOME", "")

	changed, err := config.ClearPersistedHome()
	c.Assert(err, qt.IsNil)
	c.Assert(changed, qt.IsFalse)

	_, err = config.SetPersistedHome(filepath.Join(t.TempDir(), "h"))
	c.Assert(err, qt.IsNil)

	changed, err = config.ClearPersistedHome()
	c.Assert(err, qt.IsNil)
	c.Assert(changed, qt.IsTrue)

	_, source := config.ResolveHome()
	c.Assert(source, qt.Equals, "default")
}
