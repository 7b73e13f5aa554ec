package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/errors"
)

// stubConfig swaps the config loader for the duration of a test. Tests using it
// must not run in parallel.
func stubConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	window := 2
	cfg := config.Config{
		Server:    config.ServerConfig{Port: 8080},
		Logging:   config.LoggingConfig{Development: true},
		Pipeline:  config.PipelineConfig{Workers: 2, QueueDepth: 4},
		Store:     config.StoreConfig{Backend: "memory"},
		Freshness: config.FreshnessConfig{WindowDays: &window},
		Delivery:  config.DeliveryConfig{TimeoutMs: 1000},
		Sinks:     config.SinksConfig{GRPC: config.GRPCConfig{Workers: 1}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRelayTalliesOutcomes(t *testing.T) {
	stubConfig(t, nil)

	input := strings.Join([]string{
		`{"_id":"https://example.com/a","title":"fresh"}`,
		``,
		`{"_id":"https://example.com/b","_dt":"2000-01-01"}`,
		`not json`,
	}, "\n")
	out, err := execute(t, input, "relay", "--spider", "news")
	require.NoError(t, err)
	assert.Contains(t, out, "read=3 invalid=1 delivered=0 undelivered=1 discarded=1 failed=0")
}

func TestRelayRequiresSpider(t *testing.T) {
	stubConfig(t, nil)

	_, err := execute(t, "", "relay")
	require.ErrorContains(t, err, "spider")
}

func TestExpireUsesFlagOverConfig(t *testing.T) {
	stubConfig(t, func(c *config.Config) { c.Store.ExpiryDays = 30 })

	out, err := execute(t, "", "expire", "--days", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "expired 0 record(s) older than 5 day(s)")

	out, err = execute(t, "", "expire")
	require.NoError(t, err)
	assert.Contains(t, out, "older than 30 day(s)")
}

func TestExpireRequiresPositiveDays(t *testing.T) {
	stubConfig(t, nil)

	_, err := execute(t, "", "expire")
	require.ErrorContains(t, err, "expiry days must be > 0")
}

func TestConfigErrorsStopCommands(t *testing.T) {
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) {
		return config.Config{}, errors.Missing("freshness.window_days")
	}
	t.Cleanup(func() { loadConfig = prev })

	_, err := execute(t, "", "expire", "--days", "1")
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationMissing(err))
}
