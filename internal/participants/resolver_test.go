package participants

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// fakeProxy is an in-memory proxy.Client.
type fakeProxy struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	mappings   map[string]string
	adds       int
}

func newFakeProxy(m map[string]string) *fakeProxy {
	if m == nil {
		m = map[string]string{}
	}
	return &fakeProxy{mappings: m}
}

func (f *fakeProxy) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeProxy) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeProxy) LookupProxyByDfspID(_ context.Context, fspID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mappings[fspID], nil
}

func (f *fakeProxy) AddDfspIDToProxyMapping(_ context.Context, fspID, proxyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	f.mappings[fspID] = proxyID
	return nil
}

// countingDir counts endpoint lookups to observe caching.
type countingDir struct {
	*store.Memory
	mu    sync.Mutex
	calls int
}

func (d *countingDir) GetParticipantEndpoint(ctx context.Context, fspID, endpointType string) (string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.Memory.GetParticipantEndpoint(ctx, fspID, endpointType)
}

func newDir() *countingDir {
	m := store.NewMemory()
	m.AddParticipant(model.Participant{Name: "dfspa", IsActive: true},
		model.Endpoint{Type: fspiop.EndpointQuotes, URL: "http://dfspa.local"})
	m.AddParticipant(model.Participant{Name: "proxya", IsActive: true, IsProxy: true},
		model.Endpoint{Type: fspiop.EndpointQuotes, URL: "http://proxya.local"})
	m.AddParticipant(model.Participant{Name: "dfspoff", IsActive: false})
	return &countingDir{Memory: m}
}

// ─── Direct resolution ───────────────────────────────────────────────────────

func TestResolveEndpoint_Direct(t *testing.T) {
	dir := newDir()
	r := NewResolver(dir, Options{})

	url, err := r.ResolveEndpoint(context.Background(), "dfspa", fspiop.EndpointQuotes)
	require.NoError(t, err)
	assert.Equal(t, "http://dfspa.local", url)

	_, _ = r.ResolveEndpoint(context.Background(), "dfspa", fspiop.EndpointQuotes)
	assert.Equal(t, 1, dir.calls, "second lookup served from cache")
}

func TestResolveEndpoint_UnknownWithoutProxy(t *testing.T) {
	r := NewResolver(newDir(), Options{})
	url, err := r.ResolveEndpoint(context.Background(), "dfspx", fspiop.EndpointQuotes)
	require.NoError(t, err)
	assert.Empty(t, url)
}

// ─── Proxy resolution ────────────────────────────────────────────────────────

func TestResolveEndpoint_ViaProxy(t *testing.T) {
	px := newFakeProxy(map[string]string{"dfspx": "proxya"})
	r := NewResolver(newDir(), Options{Proxy: px})

	url, err := r.ResolveEndpoint(context.Background(), "dfspx", fspiop.EndpointQuotes)
	require.NoError(t, err)
	assert.Equal(t, "http://proxya.local", url)
	assert.True(t, px.IsConnected(), "resolver connects lazily")
}

func TestResolveEndpoint_SingleLevelOfIndirection(t *testing.T) {
	px := newFakeProxy(map[string]string{"dfspx": "dfspy", "dfspy": "proxya"})
	r := NewResolver(newDir(), Options{Proxy: px})

	url, err := r.ResolveEndpoint(context.Background(), "dfspx", fspiop.EndpointQuotes)
	require.NoError(t, err)
	assert.Empty(t, url, "dfspy is itself unprovisioned; no second hop")
}

func TestResolveEndpoint_SelfHeal(t *testing.T) {
	px := newFakeProxy(nil)
	r := NewResolver(newDir(), Options{Proxy: px, SelfHeal: map[string]string{"dfspx": "proxya"}})

	url, err := r.ResolveEndpoint(context.Background(), "dfspx", fspiop.EndpointQuotes)
	require.NoError(t, err)
	assert.Equal(t, "http://proxya.local", url)
	assert.Equal(t, 1, px.adds)
	assert.Equal(t, "proxya", px.mappings["dfspx"])
}

func TestResolveEndpoint_ProxyConnectFails(t *testing.T) {
	px := newFakeProxy(nil)
	px.connectErr = errors.New("refused")
	r := NewResolver(newDir(), Options{Proxy: px})

	_, err := r.ResolveEndpoint(context.Background(), "dfspx", fspiop.EndpointQuotes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy connect")
}

// ─── Participant validation ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	px := newFakeProxy(map[string]string{"dfspx": "proxya"})
	r := NewResolver(newDir(), Options{Proxy: px})
	ctx := context.Background()

	v, err := r.Validate(ctx, "dfspa")
	require.NoError(t, err)
	assert.True(t, v.Valid())
	assert.Empty(t, v.ProxyID)

	v, err = r.Validate(ctx, "dfspx")
	require.NoError(t, err)
	assert.True(t, v.Valid())
	assert.Equal(t, "proxya", v.ProxyID)

	v, err = r.Validate(ctx, "dfspoff")
	require.NoError(t, err)
	assert.False(t, v.Valid(), "inactive and not proxied")

	v, err = r.Validate(ctx, "")
	require.NoError(t, err)
	assert.False(t, v.Valid())
}
