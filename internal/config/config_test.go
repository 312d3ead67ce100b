package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
targets:
  - name: payments
    circuitBreaker:
      failureThreshold: 5
      successThreshold: 2
      resetTimeout: "30s"
    rateLimit:
      limit: 100
      window: "1m"
      perClient: true
    retry:
      maxAttempts: 3
      baseDelay: "100ms"
      maxDelay: "10s"
      exponentialBackoff: true
    concurrency:
      maxConcurrent: 50
      acquireTimeout: "250ms"
  - name: inventory
    rateLimit:
      limit: 10
      window: "1s"

providers:
  - name: entra
    issuer: "https://login.example.com/tenant/v2.0"
    audience:
      - "api://tokengate"
    jwksEndpoint: "https://login.example.com/tenant/discovery/keys"
    keySetTTL: "1h"
    refreshLimit: 10
    refreshWindow: "1m"
    circuitBreaker:
      failureThreshold: 3
      successThreshold: 1
      resetTimeout: "10s"

keyRefreshInterval: "5m"
`

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 2)
	payments := cfg.Targets[0]
	assert.Equal(t, "payments", payments.Name)
	assert.Equal(t, 5, payments.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, payments.CircuitBreaker.ResetTimeout.Duration())
	assert.True(t, payments.RateLimit.PerClient)
	assert.Equal(t, 3, payments.Retry.MaxAttempts)
	assert.Equal(t, 50, payments.Concurrency.MaxConcurrent)

	require.Len(t, cfg.Providers, 1)
	entra := cfg.Providers[0]
	assert.Equal(t, "entra", entra.Name)
	assert.Equal(t, time.Hour, entra.KeySetTTL.Duration())

	assert.Equal(t, 5*time.Minute, cfg.KeyRefreshInterval.Duration())
}

func TestLoad_PipelineConversion(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	require.NoError(t, err)

	p := cfg.Targets[0].Pipeline()
	require.NotNil(t, p.CircuitBreaker)
	assert.Equal(t, 5, p.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 1, p.CircuitBreaker.HalfOpenMax, "optional knobs take defaults")
	require.NotNil(t, p.Retry)
	assert.Equal(t, "payments", p.Retry.Operation)
	require.NotNil(t, p.Concurrency)
	assert.Equal(t, 250*time.Millisecond, p.Concurrency.AcquireTimeout)

	inventory := cfg.Targets[1].Pipeline()
	assert.Nil(t, inventory.CircuitBreaker, "omitted sections stay disabled")
	assert.NotNil(t, inventory.RateLimit)
}

func TestLoad_AuthConversion(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	require.NoError(t, err)

	authConfigs := cfg.AuthConfigs()
	require.Len(t, authConfigs, 1)
	assert.Equal(t, "entra", authConfigs[0].Name)
	assert.Equal(t, "https://login.example.com/tenant/v2.0", authConfigs[0].Issuer)
	assert.Equal(t, 3, authConfigs[0].CircuitBreaker.FailureThreshold)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load([]byte("targets: ["))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name: "zero rate limit",
			yaml: `
targets:
  - name: svc
    rateLimit:
      limit: 0
      window: "1m"
`,
			field: "targets[0].rateLimit",
		},
		{
			name: "zero rate window",
			yaml: `
targets:
  - name: svc
    rateLimit:
      limit: 10
`,
			field: "targets[0].rateLimit",
		},
		{
			name: "zero failure threshold",
			yaml: `
targets:
  - name: svc
    circuitBreaker:
      failureThreshold: 0
      successThreshold: 2
      resetTimeout: "30s"
`,
			field: "targets[0].circuitBreaker",
		},
		{
			name: "zero retry attempts",
			yaml: `
targets:
  - name: svc
    retry:
      maxAttempts: 0
      baseDelay: "100ms"
      maxDelay: "1s"
`,
			field: "targets[0].retry",
		},
		{
			name: "zero concurrency",
			yaml: `
targets:
  - name: svc
    concurrency:
      maxConcurrent: 0
`,
			field: "targets[0].concurrency",
		},
		{
			name: "missing target name",
			yaml: `
targets:
  - rateLimit:
      limit: 1
      window: "1s"
`,
			field: "targets[0].name",
		},
		{
			name: "duplicate target name",
			yaml: `
targets:
  - name: svc
  - name: svc
`,
			field: "targets[1].name",
		},
		{
			name: "missing provider endpoint",
			yaml: `
providers:
  - name: entra
`,
			field: "providers[0].jwksEndpoint",
		},
		{
			name: "duplicate provider name",
			yaml: `
providers:
  - name: entra
    jwksEndpoint: "https://a/keys"
  - name: entra
    jwksEndpoint: "https://b/keys"
`,
			field: "providers[1].name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokengate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Targets, 2)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDuration_Marshaling(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1h30m"`)))
	assert.Equal(t, 90*time.Minute, d.Duration())

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1h30m0s"`, string(out))

	require.NoError(t, d.UnmarshalJSON([]byte("null")))
	assert.Equal(t, time.Duration(0), d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`"bogus"`)))
}
