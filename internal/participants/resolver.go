package participants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/proxy"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/cache"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// Directory is a source of participant records and endpoints.
// Both store.Store and LedgerClient satisfy it.
type Directory interface {
	GetParticipant(ctx context.Context, name string) (*model.Participant, error)
	GetParticipantEndpoint(ctx context.Context, fspID, endpointType string) (string, error)
}

// Resolver resolves participants and callback endpoints, falling back to the
// proxy mapping for participants that are not provisioned locally.
type Resolver struct {
	dir          Directory
	proxy        proxy.Client
	selfHeal     map[string]string
	participants *cache.Cache[model.Participant]
	endpoints    *cache.Cache[string]
	logger       *zap.Logger
}

type Options struct {
	Proxy    proxy.Client      // nil disables proxy resolution
	SelfHeal map[string]string // fspId -> proxyId used when no mapping exists
	CacheTTL time.Duration
	CacheMax int
	Logger   *zap.Logger
}

func NewResolver(dir Directory, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	return &Resolver{
		dir:          dir,
		proxy:        opts.Proxy,
		selfHeal:     opts.SelfHeal,
		participants: cache.New[model.Participant](opts.CacheTTL, opts.CacheMax),
		endpoints:    cache.New[string](opts.CacheTTL, opts.CacheMax),
		logger:       opts.Logger.Named("resolver"),
	}
}

// StartCleaner starts evicting expired cache entries until stop is closed.
func (r *Resolver) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	go r.participants.StartCleaner(interval, stop)
	go r.endpoints.StartCleaner(interval, stop)
}

// ResolveEndpoint returns the callback URL for fspID, or "" when none can be resolved.
// Only one level of proxy indirection is followed.
func (r *Resolver) ResolveEndpoint(ctx context.Context, fspID, endpointType string) (string, error) {
	url, err := r.directEndpoint(ctx, fspID, endpointType)
	if err != nil || url != "" {
		return url, err
	}
	if r.proxy == nil {
		return "", nil
	}

	proxyID, err := r.LookupProxy(ctx, fspID)
	if err != nil || proxyID == "" {
		return "", err
	}
	r.logger.Debug("resolver.via_proxy",
		zap.String("fsp_id", fspID),
		zap.String("proxy_id", proxyID),
		zap.String("endpoint_type", endpointType))
	return r.directEndpoint(ctx, proxyID, endpointType)
}

// LookupProxy returns the proxy fronting fspID, applying the self-heal table once
// when no mapping exists. Returns "" when fspID is not proxied.
func (r *Resolver) LookupProxy(ctx context.Context, fspID string) (string, error) {
	if r.proxy == nil {
		return "", nil
	}
	if !r.proxy.IsConnected() {
		if err := r.proxy.Connect(ctx); err != nil {
			return "", fmt.Errorf("proxy connect: %w", err)
		}
	}
	proxyID, err := r.proxy.LookupProxyByDfspID(ctx, fspID)
	if err != nil || proxyID != "" {
		return proxyID, err
	}

	healID, ok := r.selfHeal[fspID]
	if !ok {
		return "", nil
	}
	r.logger.Info("resolver.proxy_self_heal", zap.String("fsp_id", fspID), zap.String("proxy_id", healID))
	if err := r.proxy.AddDfspIDToProxyMapping(ctx, fspID, healID); err != nil {
		return "", err
	}
	return r.proxy.LookupProxyByDfspID(ctx, fspID)
}

func (r *Resolver) directEndpoint(ctx context.Context, fspID, endpointType string) (string, error) {
	key := fspID + "|" + endpointType
	if url, ok := r.endpoints.Get(key); ok {
		return url, nil
	}
	url, err := r.dir.GetParticipantEndpoint(ctx, fspID, endpointType)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("endpoint lookup %s: %w", fspID, err)
	}
	r.endpoints.Put(key, url)
	return url, nil
}

// GetParticipant returns the participant record, or nil when it does not exist.
func (r *Resolver) GetParticipant(ctx context.Context, name string) (*model.Participant, error) {
	if p, ok := r.participants.Get(name); ok {
		return &p, nil
	}
	p, err := r.dir.GetParticipant(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("participant lookup %s: %w", name, err)
	}
	r.participants.Put(name, *p)
	return p, nil
}

// Validation is the outcome of checking that a participant may take part in a quote.
type Validation struct {
	Participant *model.Participant
	ProxyID     string
}

// Valid reports whether the participant exists and is active, or is reachable through a proxy.
func (v Validation) Valid() bool {
	return (v.Participant != nil && v.Participant.IsActive) || v.ProxyID != ""
}

// Validate looks up name locally and through the proxy mapping.
func (r *Resolver) Validate(ctx context.Context, name string) (Validation, error) {
	if name == "" {
		return Validation{}, nil
	}
	p, err := r.GetParticipant(ctx, name)
	if err != nil {
		return Validation{}, err
	}
	if p != nil && p.IsActive {
		return Validation{Participant: p}, nil
	}
	proxyID, err := r.LookupProxy(ctx, name)
	if err != nil {
		return Validation{Participant: p}, err
	}
	return Validation{Participant: p, ProxyID: proxyID}, nil
}
