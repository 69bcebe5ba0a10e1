package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig is ~/.local/state/depgraph/remotes.toml: named servers and
// which one the CLI talks to by default.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one server. GRPCAddr is only consulted with --transport grpc.
type Remote struct {
	URL      string `toml:"url"`
	GRPCAddr string `toml:"grpc_addr,omitempty"`
	Token    string `toml:"token,omitempty"`
}

func (c *RemotesConfig) lookup(name string) (Remote, error) {
	r, ok := c.Remotes[name]
	if !ok {
		return Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return r, nil
}

func (c *RemotesConfig) names() []string {
	out := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// redact keeps the first eight characters of a token and replaces the
// rest with fill, or with "..." when fill is empty.
func redact(token, fill string) string {
	const keep = 8
	if len(token) <= keep {
		return token
	}
	if fill == "" {
		return token[:keep] + "..."
	}
	return token[:keep] + strings.Repeat(fill, len(token)-keep)
}

func remoteConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "depgraph")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

// loadRemotesConfig treats a missing file as an empty config.
func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remoteConfigPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	var cfg RemotesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return RemotesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]Remote)
	}
	return cfg, nil
}

// saveRemotesConfig writes the file owner-only since it holds tokens.
func saveRemotesConfig(cfg RemotesConfig) (err error) {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return toml.NewEncoder(f).Encode(cfg)
}

// editRemotes loads the config, applies edit and saves the result unless
// edit fails.
func editRemotes(edit func(*RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := edit(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil || cfg.Active == "" {
		return Remote{}
	}
	return cfg.Remotes[cfg.Active]
})

func activeRemoteURL() string      { return activeRemote().URL }
func activeRemoteGRPCAddr() string { return activeRemote().GRPCAddr }
func activeRemoteToken() string    { return activeRemote().Token }
