package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testConfig = `
tyto:
  announce_interval: 30m
  metrics_addr: ""
  http:
    addr: "0.0.0.0:6969"
    read_timeout: 5s
    write_timeout: 5s
    idle_timeout: 30s
    allow_ip_spoofing: true
    default_num_want: 50
    max_num_want: 200
  storage:
    name: memory
    config:
      shard_count: 1024
      reap_interval: 1m
      peer_timeout: 1h
  prehooks:
    - name: interval variation
      options:
        modify_response_probability: 0.2
        max_increase_delta: 60
  torrents:
    - info_hash: "0102030405060708090a0b0c0d0e0f1011121314"
      name: "debian.iso"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tyto.yaml")
	require.Nil(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseConfigFile(t *testing.T) {
	cfg, err := ParseConfigFile(writeConfig(t, testConfig))
	require.Nil(t, err)

	require.Equal(t, 30*time.Minute, cfg.AnnounceInterval)
	require.Equal(t, "memory", cfg.Storage.Name)
	require.Equal(t, "0.0.0.0:6969", cfg.HTTPConfig["addr"])
	require.Equal(t, []string{"interval variation"}, cfg.PreHookNames())
	require.Empty(t, cfg.PostHookNames())
	require.Len(t, cfg.Torrents, 1)
	require.Equal(t, "debian.iso", cfg.Torrents[0].Name)

	reap, err := cfg.Storage.Config.Duration("reap_interval", 0)
	require.Nil(t, err)
	require.Equal(t, time.Minute, reap)
}

func TestParseConfigFileMissingSection(t *testing.T) {
	_, err := ParseConfigFile(writeConfig(t, "other: {}\n"))
	require.ErrorIs(t, err, ErrConfigurationSectionNotFound)
}
