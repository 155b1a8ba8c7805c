package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:         "test-relayd",
			TickInterval: 10 * time.Second,
		},
		Plugins: map[string]PluginConf{
			"packet-claimer": {
				Enabled:        true,
				CircuitBreaker: &CircuitBreakerConfig{Threshold: 5},
			},
		},
		Chains: []ChainConfig{
			{Name: "osmosis", Denom: "uosmo", Keyring: KeyringConfig{Name: "relayer"}},
		},
	}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{name: "root service field", path: "service.name", want: "test-relayd"},
		{name: "nested plugin field", path: "plugins.packet-claimer.enabled", want: true},
		{name: "deep breaker field", path: "plugins.packet-claimer.circuit_breaker.threshold", want: 5},
		{name: "invalid path", path: "service.missing", wantErr: true},
		{name: "plugin entity", path: "plugin:packet-claimer", want: cfg.Plugins["packet-claimer"]},
		{name: "chain entity field", path: "chain:osmosis.keyring.name", want: "relayer"},
		{name: "unknown chain", path: "chain:cosmoshub", wantErr: true},
		{name: "unknown entity type", path: "webhook:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEntityWildcard(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{{Name: "a"}, {Name: "b"}}}

	got, err := cfg.GetEntity("chain:*")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
