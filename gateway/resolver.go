package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Credentials is one decrypted gateway configuration for a tenant.
type Credentials struct {
	GatewayID string
	Mode      string
	Values    map[string]string
}

// CredentialSource supplies decrypted credentials for a tenant's enabled
// gateways.
type CredentialSource interface {
	LoadEnabled(ctx context.Context, tenantID string) ([]Credentials, error)
}

// LiveGateway is one probed, initialized gateway with its circuit breaker.
type LiveGateway struct {
	Gateway Gateway
	Mode    string
	Breaker *gobreaker.CircuitBreaker
}

// Available reports whether the breaker currently admits requests.
func (l *LiveGateway) Available() bool {
	return l.Breaker.State() != gobreaker.StateOpen
}

// LiveSet is the result of resolving a tenant's gateways: the instances that
// answered their probe, plus warnings for the ones that did not.
type LiveSet struct {
	TenantID string
	Gateways []*LiveGateway
	Warnings []string
	// FailedProbes lists gateway ids whose health probe failed this resolve.
	// Build and initialization failures appear in Warnings only.
	FailedProbes []string
	ResolvedAt   time.Time
}

// Get returns the live gateway with the given id.
func (s *LiveSet) Get(id string) (*LiveGateway, bool) {
	for _, lg := range s.Gateways {
		if lg.Gateway.ID() == id {
			return lg, true
		}
	}
	return nil, false
}

// IDs returns the ids of all live gateways, in resolution order.
func (s *LiveSet) IDs() []string {
	ids := make([]string, len(s.Gateways))
	for i, lg := range s.Gateways {
		ids[i] = lg.Gateway.ID()
	}
	return ids
}

// Resolver builds a tenant's live gateway set: loads enabled credentials,
// constructs instances through the registry, probes them concurrently and
// drops the ones that fail. Probe failures are warnings, never errors; a
// tenant with one broken gateway can still route through the others.
type Resolver struct {
	source       CredentialSource
	registry     *Registry
	cache        InstanceCache
	probeTimeout time.Duration

	// Breaker state must survive across resolves so an open breaker stays
	// open between requests.
	breakers   map[string]*gobreaker.CircuitBreaker
	breakersMu sync.Mutex
}

// NewResolver creates a resolver over the given credential source.
func NewResolver(source CredentialSource, registry *Registry, cache InstanceCache, probeTimeout time.Duration) *Resolver {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Resolver{
		source:       source,
		registry:     registry,
		cache:        cache,
		probeTimeout: probeTimeout,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Resolve returns the live gateway set for a tenant.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*LiveSet, error) {
	creds, err := r.source.LoadEnabled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway credentials for tenant %s: %w", tenantID, err)
	}

	set := &LiveSet{TenantID: tenantID, ResolvedAt: time.Now()}

	type probeResult struct {
		cred     Credentials
		instance Gateway
		cached   bool
		err      error
	}

	results := make([]probeResult, len(creds))
	var wg sync.WaitGroup

	for i, cred := range creds {
		// Cached instances already passed a probe; reuse without re-probing.
		if cached := r.cache.Get(tenantID, cred.GatewayID, cred.Mode); cached != nil {
			results[i] = probeResult{cred: cred, instance: cached, cached: true}
			continue
		}

		instance, buildErr := r.buildInstance(cred)
		if buildErr != nil {
			results[i] = probeResult{cred: cred, err: buildErr}
			continue
		}

		wg.Add(1)
		go func(i int, cred Credentials, instance Gateway) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			defer cancel()

			results[i] = probeResult{cred: cred, instance: instance, err: instance.Probe(probeCtx)}
		}(i, cred, instance)
	}

	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			set.Warnings = append(set.Warnings,
				fmt.Sprintf("gateway %s excluded: %v", res.cred.GatewayID, res.err))
			if res.instance != nil {
				set.FailedProbes = append(set.FailedProbes, res.cred.GatewayID)
			}
			continue
		}
		if res.instance == nil {
			continue
		}

		if !res.cached {
			r.cache.Set(tenantID, res.cred.GatewayID, res.cred.Mode, res.instance)
		}

		set.Gateways = append(set.Gateways, &LiveGateway{
			Gateway: res.instance,
			Mode:    res.cred.Mode,
			Breaker: r.breakerFor(tenantID, res.cred.GatewayID),
		})
	}

	sort.Slice(set.Gateways, func(i, j int) bool {
		return set.Gateways[i].Gateway.ID() < set.Gateways[j].Gateway.ID()
	})

	return set, nil
}

// Invalidate drops cached instances for a tenant-gateway pair. Called after
// credential updates so the next resolve rebuilds from fresh credentials.
func (r *Resolver) Invalidate(tenantID, gatewayID string) {
	r.cache.DeleteByTenantGateway(tenantID, gatewayID)
}

func (r *Resolver) buildInstance(cred Credentials) (Gateway, error) {
	instance, err := r.registry.Create(cred.GatewayID)
	if err != nil {
		return nil, err
	}

	if err := instance.Initialize(cred.Values); err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	return instance, nil
}

func (r *Resolver) breakerFor(tenantID, gatewayID string) *gobreaker.CircuitBreaker {
	key := tenantID + "|" + gatewayID

	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A decline is a processed answer, not gateway ill-health; it must
		// not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || CodeOf(err) == ErrCodeDeclined
		},
	})
	r.breakers[key] = cb

	return cb
}
