// SPDX-License-Identifier: GPL-2.0-or-later

// Package storage holds the environment configuration, the registry
// of unfinished outputs and the disk helpers shared by the tools.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mp4kit/pkg/log"
	"mp4kit/pkg/mux"
	"mp4kit/pkg/recovery"

	"gopkg.in/yaml.v3"
)

// ConfigEnv stores the environment configuration.
type ConfigEnv struct {
	StorageDir   string         `yaml:"storageDir"`
	RegistryPath string         `yaml:"registryPath"`
	Mux          ConfigMux      `yaml:"mux"`
	Recovery     ConfigRecovery `yaml:"recovery"`

	ConfigDir string `yaml:"-"`
}

// ConfigMux movie writer settings.
type ConfigMux struct {
	MinDuration      time.Duration `yaml:"minDuration"`
	DisableAlignment bool          `yaml:"disableAlignment"`
	MaxInterleave    time.Duration `yaml:"maxInterleave"`
	MaxMdatSize      int64         `yaml:"maxMdatSize"`
	Comment          string        `yaml:"comment"`
}

// ConfigRecovery recovery log settings.
type ConfigRecovery struct {
	LogSuffix               string `yaml:"logSuffix"`
	SyncInterval            int    `yaml:"syncInterval"`
	ElstMediaTimeTruncation bool   `yaml:"elstMediaTimeTruncation"`
}

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// ErrInvalidValue invalid config value.
var ErrInvalidValue = errors.New("invalid value")

const defaultLogSuffix = ".mp4i"

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.ConfigDir, "storage")
	}
	if env.RegistryPath == "" {
		env.RegistryPath = filepath.Join(env.StorageDir, "registry.db")
	}
	if env.Mux.MaxInterleave == 0 {
		env.Mux.MaxInterleave = mux.DefaultMaxInterleave
	}
	if env.Mux.MaxMdatSize <= 0 || env.Mux.MaxMdatSize > mux.MaxMdatSize {
		env.Mux.MaxMdatSize = mux.MaxMdatSize
	}
	if env.Recovery.LogSuffix == "" {
		env.Recovery.LogSuffix = defaultLogSuffix
	}
	if env.Recovery.SyncInterval == 0 {
		env.Recovery.SyncInterval = recovery.DefaultSyncInterval
	}

	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.RegistryPath) {
		return nil, fmt.Errorf("registryPath '%v': %w", env.RegistryPath, ErrPathNotAbsolute)
	}
	if env.Mux.MinDuration < 0 {
		return nil, fmt.Errorf("minDuration '%v': %w", env.Mux.MinDuration, ErrInvalidValue)
	}
	if env.Mux.MaxInterleave < 0 {
		return nil, fmt.Errorf("maxInterleave '%v': %w", env.Mux.MaxInterleave, ErrInvalidValue)
	}
	if env.Recovery.SyncInterval < 0 {
		return nil, fmt.Errorf("syncInterval '%v': %w", env.Recovery.SyncInterval, ErrInvalidValue)
	}

	return &env, nil
}

// ReadConfigEnv reads and parses the file at envPath.
func ReadConfigEnv(envPath string) (*ConfigEnv, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("read env.yaml: %w", err)
	}
	return NewConfigEnv(envPath, envYAML)
}

// MuxConfig returns the movie writer configuration.
func (env ConfigEnv) MuxConfig(logger log.ILogger) mux.Config {
	return mux.Config{
		MinDuration:      env.Mux.MinDuration,
		DisableAlignment: env.Mux.DisableAlignment,
		MaxInterleave:    env.Mux.MaxInterleave,
		MaxMdatSize:      env.Mux.MaxMdatSize,
		Comment:          env.Mux.Comment,
		Logger:           logger,
	}
}

// LogPath returns the recovery log path of an output.
func (env ConfigEnv) LogPath(output string) string {
	return output + env.Recovery.LogSuffix
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.StorageDir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create storage directory: %v: %w", env.StorageDir, err)
	}
	err = os.MkdirAll(filepath.Dir(env.RegistryPath), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create registry directory: %v: %w", env.RegistryPath, err)
	}
	return nil
}
