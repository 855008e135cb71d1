// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mp4kit/pkg/mux"
	"mp4kit/pkg/recovery"

	"github.com/stretchr/testify/require"
)

func TestNewConfigEnv(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		env, err := NewConfigEnv("/home/mp4kit/env.yaml", []byte{})
		require.NoError(t, err)

		want := &ConfigEnv{
			StorageDir:   "/home/mp4kit/storage",
			RegistryPath: "/home/mp4kit/storage/registry.db",
			Mux: ConfigMux{
				MaxInterleave: mux.DefaultMaxInterleave,
				MaxMdatSize:   mux.MaxMdatSize,
			},
			Recovery: ConfigRecovery{
				LogSuffix:    ".mp4i",
				SyncInterval: recovery.DefaultSyncInterval,
			},
			ConfigDir: "/home/mp4kit",
		}
		require.Equal(t, want, env)
	})
	t.Run("maximal", func(t *testing.T) {
		envYAML := []byte(`
storageDir: /data
registryPath: /var/lib/mp4kit.db
mux:
  minDuration: 2s
  disableAlignment: true
  maxInterleave: 500ms
  maxMdatSize: 1000000
  comment: camera 1
recovery:
  logSuffix: .log
  syncInterval: 8
  elstMediaTimeTruncation: true
`)
		env, err := NewConfigEnv("/home/mp4kit/env.yaml", envYAML)
		require.NoError(t, err)

		want := &ConfigEnv{
			StorageDir:   "/data",
			RegistryPath: "/var/lib/mp4kit.db",
			Mux: ConfigMux{
				MinDuration:      2 * time.Second,
				DisableAlignment: true,
				MaxInterleave:    500 * time.Millisecond,
				MaxMdatSize:      1000000,
				Comment:          "camera 1",
			},
			Recovery: ConfigRecovery{
				LogSuffix:               ".log",
				SyncInterval:            8,
				ElstMediaTimeTruncation: true,
			},
			ConfigDir: "/home/mp4kit",
		}
		require.Equal(t, want, env)
		require.Equal(t, "/data/a.mp4.log", env.LogPath("/data/a.mp4"))

		cfg := env.MuxConfig(nil)
		require.Equal(t, 2*time.Second, cfg.MinDuration)
		require.True(t, cfg.DisableAlignment)
		require.Equal(t, 500*time.Millisecond, cfg.MaxInterleave)
		require.Equal(t, int64(1000000), cfg.MaxMdatSize)
		require.Equal(t, "camera 1", cfg.Comment)
		require.Nil(t, cfg.SampleLogger)
	})
	t.Run("mdatClamped", func(t *testing.T) {
		env, err := NewConfigEnv("/env.yaml", []byte("mux:\n  maxMdatSize: 99999999999\n"))
		require.NoError(t, err)
		require.Equal(t, int64(mux.MaxMdatSize), env.Mux.MaxMdatSize)
	})
	t.Run("unmarshalErr", func(t *testing.T) {
		_, err := NewConfigEnv("/env.yaml", []byte("&"))
		require.Error(t, err)
	})
	t.Run("storageDirNotAbsolute", func(t *testing.T) {
		_, err := NewConfigEnv("/env.yaml", []byte("storageDir: data\n"))
		require.ErrorIs(t, err, ErrPathNotAbsolute)
	})
	t.Run("registryNotAbsolute", func(t *testing.T) {
		_, err := NewConfigEnv("/env.yaml", []byte("registryPath: registry.db\n"))
		require.ErrorIs(t, err, ErrPathNotAbsolute)
	})
	t.Run("negativeSyncInterval", func(t *testing.T) {
		_, err := NewConfigEnv("/env.yaml", []byte("recovery:\n  syncInterval: -1\n"))
		require.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestPrepareEnvironment(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("registryPath: "+dir+"/db/registry.db\n"), 0o600))

	env, err := ReadConfigEnv(envPath)
	require.NoError(t, err)
	require.NoError(t, env.PrepareEnvironment())

	for _, d := range []string{env.StorageDir, filepath.Join(dir, "db")} {
		stat, err := os.Stat(d)
		require.NoError(t, err)
		require.True(t, stat.IsDir())
	}
}
