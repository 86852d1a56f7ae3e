package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadFrom resets viper's global state and loads from an empty config
// directory, so each case sees only its own environment.
func loadFrom(t *testing.T) (Config, error) {
	t.Helper()
	viper.Reset()
	return LoadConfig(t.TempDir())
}

func TestLoadConfig(t *testing.T) {
	t.Run("MissingTokenIsFatal", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "")

		_, err := loadFrom(t)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "123:abc")

		cfg, err := loadFrom(t)
		require.NoError(t, err)
		assert.Equal(t, "123:abc", cfg.Telegram.Token)
		assert.Equal(t, "Africa/Lusaka", cfg.Telegram.Timezone)
		assert.Equal(t, 20, cfg.Digest.Hour)
		assert.Equal(t, "trading_journal.db", cfg.Database.DSN)
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("EnvOverridesDefaults", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "123:abc")
		t.Setenv("TIMEZONE", "Europe/Berlin")
		t.Setenv("DAILY_SUMMARY_HOUR", "7")

		cfg, err := loadFrom(t)
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", cfg.Telegram.Timezone)
		assert.Equal(t, 7, cfg.Digest.Hour)
	})

	t.Run("DigestHourOutOfRange", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "123:abc")

		for _, hour := range []string{"-1", "24", "99"} {
			t.Setenv("DAILY_SUMMARY_HOUR", hour)
			_, err := loadFrom(t)
			require.Error(t, err, "hour %s must be rejected", hour)
			assert.Contains(t, err.Error(), "digest hour")
		}
	})

	t.Run("HourBoundariesAccepted", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "123:abc")

		for _, hour := range []string{"0", "23"} {
			t.Setenv("DAILY_SUMMARY_HOUR", hour)
			_, err := loadFrom(t)
			assert.NoError(t, err, "hour %s is valid", hour)
		}
	})
}
