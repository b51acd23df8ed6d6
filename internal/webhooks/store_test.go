package webhooks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `version: 1
default_channel: ops
webhooks:
  - channel: ops
    url: https://chat.example.com/hooks/abcdef123
    description: Operations room
  - channel: dev
    url: https://chat.example.com/hooks/zyxwvu987
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webhooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStoreLoad(t *testing.T) {
	store := NewStore(writeConfig(t, sampleConfig))

	cfg, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "ops", cfg.DefaultChannel)
	require.Len(t, cfg.Webhooks, 2)
	assert.Equal(t, Webhook{Channel: "ops", URL: "https://chat.example.com/hooks/abcdef123", Description: "Operations room"}, cfg.Webhooks[0])
	assert.Equal(t, "", cfg.Webhooks[1].Description)
	assert.Equal(t, []string{"ops", "dev"}, cfg.Channels())
}

func TestStoreLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"scalar document", "just text"},
		{"missing webhooks", "default_channel: ops\n"},
		{"webhooks not a list", "webhooks:\n  ops: https://x\n"},
		{"unparsable", "webhooks: [\n"},
		{"entry not a mapping", "webhooks:\n  - [1, 2]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(writeConfig(t, tt.content)).Load()
			require.Error(t, err)
			assert.Equal(t, KindConfig, KindOf(err))
			assert.True(t, errors.Is(err, ErrConfig))
		})
	}
}

func TestStoreLoad_WebhooksAlias(t *testing.T) {
	content := `shared: &hooks
  - channel: ops
    url: https://chat.example.com/hooks/abcdef123
default_channel: ops
webhooks: *hooks
`
	cfg, err := NewStore(writeConfig(t, content)).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, cfg.Channels())

	_, err = NewStore(writeConfig(t, "m: &m\n  ops: https://x\nwebhooks: *m\n")).Load()
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestStoreLoad_MissingFile(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStoreLoad_StaleDefaultIsAccepted(t *testing.T) {
	store := NewStore(writeConfig(t, "default_channel: gone\nwebhooks:\n  - channel: ops\n    url: https://x/hooks/abcdef\n"))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "gone", cfg.DefaultChannel)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(writeConfig(t, sampleConfig))

	first, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(first))

	second, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, store.Save(second))
	third, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestStoreSave_KeepsPermissions(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store := NewStore(path)

	cfg, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoreSave_Failure(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing-dir", "webhooks.yaml"))

	err := store.Save(&Config{Webhooks: []Webhook{}})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestStoreUpdate(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store := NewStore(path)

	err := store.Update(func(cfg *Config) error {
		cfg.DefaultChannel = "dev"
		return nil
	})
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.DefaultChannel)
	assert.Len(t, cfg.Webhooks, 2)
}

func TestStoreUpdate_ErrorLeavesFileUntouched(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store := NewStore(path)

	err := store.Update(func(cfg *Config) error {
		cfg.DefaultChannel = "dev"
		return NewNotFoundError("dev")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleConfig, string(data))
}

func TestConfigResolve(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	t.Run("explicit channel", func(t *testing.T) {
		w, err := cfg.Resolve("dev")
		require.NoError(t, err)
		assert.Equal(t, "dev", w.Channel)
	})

	t.Run("explicit channel missing", func(t *testing.T) {
		_, err := cfg.Resolve("random")
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.Contains(t, err.Error(), "random")
	})

	t.Run("default channel", func(t *testing.T) {
		w, err := cfg.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "ops", w.Channel)
	})

	t.Run("stale default", func(t *testing.T) {
		stale := *cfg
		stale.DefaultChannel = "removed"
		_, err := stale.Resolve("")
		assert.Equal(t, KindConfiguration, KindOf(err))
		assert.Contains(t, err.Error(), "default webhook not configured")
	})

	t.Run("no default", func(t *testing.T) {
		none := *cfg
		none.DefaultChannel = ""
		_, err := none.Resolve("")
		assert.Equal(t, KindConfiguration, KindOf(err))
		assert.Contains(t, err.Error(), "no default webhook set")
	})
}

func TestConfigFind_FirstMatchWins(t *testing.T) {
	cfg := &Config{Webhooks: []Webhook{
		{Channel: "ops", URL: "https://first"},
		{Channel: "ops", URL: "https://second"},
	}}

	w, ok := cfg.Find("ops")
	require.True(t, ok)
	assert.Equal(t, "https://first", w.URL)
}
