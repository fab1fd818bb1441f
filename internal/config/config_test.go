package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "quoting-switch", cfg.ServiceName)
	assert.Equal(t, "Hub", cfg.HubName)
	assert.Equal(t, 9040, cfg.Port)
	assert.False(t, cfg.SimpleRoutingMode)
	assert.Equal(t, "nats", cfg.Transport)
	assert.Equal(t, 10, cfg.NATSBatchSize)
	assert.Equal(t, time.Minute, cfg.ParticipantCacheTTL)
	assert.Equal(t, "2.0", cfg.Protocol.FxDefault)
	assert.Equal(t, []string{"1.0", "1.1", "2.0"}, cfg.Protocol.ContentValid)
	assert.Empty(t, cfg.ProxySelfHeal)
	assert.Equal(t, time.Minute, cfg.ExpirySweepInterval)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HUB_NAME", "switch")
	t.Setenv("SIMPLE_ROUTING_MODE", "true")
	t.Setenv("PROXY_SELF_HEAL", "dfspx:proxya, dfspy:proxyb")
	t.Setenv("PROTOCOL_CONTENT_VERSIONS", "1.1")
	t.Setenv("OUTBOUND_RPS", "25")
	t.Setenv("HTTP_CLIENT_TIMEOUT", "5s")

	cfg := Load()

	assert.Equal(t, "switch", cfg.HubName)
	assert.True(t, cfg.SimpleRoutingMode)
	assert.Equal(t, map[string]string{"dfspx": "proxya", "dfspy": "proxyb"}, cfg.ProxySelfHeal)
	assert.Equal(t, []string{"1.1"}, cfg.Protocol.ContentValid)
	assert.Equal(t, 25, cfg.OutboundRPS)
	assert.Equal(t, 5*time.Second, cfg.HTTPClientTimeout)
}
