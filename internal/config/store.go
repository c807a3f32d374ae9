// Package config loads config.yaml and holds the current configuration for hot reload.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/cistatsd/internal/model"
)

const FileName = "config.yaml"

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (model.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read %s: %w", FileName, err)
	}
	return Parse(data)
}

func Parse(data []byte) (model.Config, error) {
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("validate %s: %w", FileName, err)
	}
	return cfg.WithDefaults(), nil
}

// Store holds the configuration currently in effect. Readers get a copy, so a
// reload never changes a value a tick is already using.
type Store struct {
	path    string
	current atomic.Pointer[model.Config]
}

func NewStore(path string, initial model.Config) *Store {
	s := &Store{path: path}
	s.Set(initial)
	return s
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Current() model.Config {
	return s.current.Load().WithDefaults()
}

func (s *Store) Set(cfg model.Config) {
	cfg = cfg.WithDefaults()
	s.current.Store(&cfg)
}

// Reload re-reads the file. On error the previous configuration stays in effect.
func (s *Store) Reload() (model.Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}
	s.Set(cfg)
	return cfg, nil
}
