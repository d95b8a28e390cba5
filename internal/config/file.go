package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for file decoding. Pointer fields distinguish
// "absent" from an explicit zero.
type fileConfig struct {
	DataDir          string   `yaml:"data_dir" toml:"data_dir"`
	Shell            string   `yaml:"shell" toml:"shell"`
	Workspace        string   `yaml:"workspace" toml:"workspace"`
	Trigger          string   `yaml:"trigger" toml:"trigger"`
	ForegroundWaitMs *int     `yaml:"foreground_wait_ms" toml:"foreground_wait_ms"`
	OutputTail       *int     `yaml:"output_tail" toml:"output_tail"`
	KillGraceMs      *int     `yaml:"kill_grace_ms" toml:"kill_grace_ms"`
	Elevation        string   `yaml:"elevation" toml:"elevation"`
	ElevatedSenders  []string `yaml:"elevated_senders" toml:"elevated_senders"`
	Sandbox          []string `yaml:"sandbox" toml:"sandbox"`
	HostLock         *bool    `yaml:"host_lock" toml:"host_lock"`
	Listen           string   `yaml:"listen" toml:"listen"`
	MaxConns         *int     `yaml:"max_conns" toml:"max_conns"`
	AgentURL         string   `yaml:"agent_url" toml:"agent_url"`
	LogLevel         string   `yaml:"log_level" toml:"log_level"`
}

// decodeFile parses data according to the extension of path.
func decodeFile(path string, data []byte) (*fileConfig, error) {
	fc := &fileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), fc)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing %s: unknown key %q", path, undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("%w: %s (want .yaml, .yml or .toml)", ErrUnknownFormat, path)
	}
	return fc, nil
}

// applyFile reads path and overlays its values on c. The agent token is only
// read from the environment.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	fc, err := decodeFile(path, data)
	if err != nil {
		return err
	}

	setString(&c.DataDir, fc.DataDir)
	setString(&c.Shell, fc.Shell)
	setString(&c.Workspace, fc.Workspace)
	setString(&c.Trigger, fc.Trigger)
	setString(&c.Elevation, fc.Elevation)
	setString(&c.Listen, fc.Listen)
	setString(&c.AgentURL, fc.AgentURL)
	setString(&c.LogLevel, fc.LogLevel)

	if fc.ElevatedSenders != nil {
		c.ElevatedSenders = fc.ElevatedSenders
	}
	if fc.Sandbox != nil {
		c.Sandbox = fc.Sandbox
	}
	if fc.ForegroundWaitMs != nil {
		c.ForegroundWaitMs = *fc.ForegroundWaitMs
	}
	if fc.OutputTail != nil {
		c.OutputTail = *fc.OutputTail
	}
	if fc.KillGraceMs != nil {
		c.KillGraceMs = *fc.KillGraceMs
	}
	if fc.MaxConns != nil {
		c.MaxConns = *fc.MaxConns
	}
	if fc.HostLock != nil {
		c.HostLock = *fc.HostLock
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
