package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
	"github.com/paymux/paymux/infra/opensearch"
)

// StatsSource supplies aggregated attempt statistics per tenant. The
// OpenSearch attempt logger is the production implementation.
type StatsSource interface {
	GetAllGatewayStats(ctx context.Context, tenantID string, windowDays int) (map[string]opensearch.GatewayStats, error)
}

// Service keeps an in-memory view of gateway performance per tenant and
// refreshes it in the background. Reads never block on a refresh: each
// cycle builds a complete replacement map and swaps it in atomically, and
// a failed refresh keeps serving the previous snapshots.
type Service struct {
	source     StatsSource
	windowDays int
	interval   time.Duration

	mu      sync.RWMutex
	tenants map[string]struct{}

	// map[tenantID]map[gatewayID]Snapshot, replaced wholesale on refresh
	snapshots atomic.Value

	lastRefresh atomic.Int64

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewService creates a feed service. windowDays bounds the aggregation
// window; interval is the background refresh period.
func NewService(source StatsSource, windowDays int, interval time.Duration) *Service {
	if windowDays <= 0 {
		windowDays = 7
	}
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Service{
		source:     source,
		windowDays: windowDays,
		interval:   interval,
		tenants:    make(map[string]struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.snapshots.Store(map[string]map[string]Snapshot{})
	return s
}

// RegisterTenant adds a tenant to the refresh cycle. Safe to call on
// every request; registration is idempotent.
func (s *Service) RegisterTenant(tenantID string) {
	if tenantID == "" {
		return
	}

	s.mu.RLock()
	_, known := s.tenants[tenantID]
	s.mu.RUnlock()
	if known {
		return
	}

	s.mu.Lock()
	s.tenants[tenantID] = struct{}{}
	s.mu.Unlock()
}

// Snapshots returns the current snapshot set for a tenant, keyed by
// gateway ID. The returned map must be treated as read-only.
func (s *Service) Snapshots(tenantID string) map[string]Snapshot {
	all := s.snapshots.Load().(map[string]map[string]Snapshot)
	return all[tenantID]
}

// Get returns one gateway's snapshot for a tenant. The second return is
// false when the feed has no usable data for that gateway.
func (s *Service) Get(tenantID, gatewayID string) (Snapshot, bool) {
	snap, ok := s.Snapshots(tenantID)[gatewayID]
	if !ok || !snap.HasData() {
		return Snapshot{}, false
	}
	return snap, true
}

// Refresh runs one aggregation cycle for all registered tenants. A tenant
// whose aggregation fails keeps its previous snapshots.
func (s *Service) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.FeedRefreshDuration.Observe(time.Since(start).Seconds())
	}()

	s.mu.RLock()
	tenantIDs := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		tenantIDs = append(tenantIDs, id)
	}
	s.mu.RUnlock()

	previous := s.snapshots.Load().(map[string]map[string]Snapshot)
	next := make(map[string]map[string]Snapshot, len(tenantIDs))

	var lastErr error
	now := time.Now().UTC()

	for _, tenantID := range tenantIDs {
		stats, err := s.source.GetAllGatewayStats(ctx, tenantID, s.windowDays)
		if err != nil {
			lastErr = err
			logger.Warn("feed refresh failed, keeping previous snapshots", logger.LogContext{
				TenantID: tenantID,
				Fields:   map[string]any{"error": err.Error()},
			})
			if prev, ok := previous[tenantID]; ok {
				next[tenantID] = prev
			}
			continue
		}

		byGateway := make(map[string]Snapshot, len(stats))
		for gatewayID, gs := range stats {
			byGateway[gatewayID] = Snapshot{
				GatewayID:   gatewayID,
				WindowDays:  s.windowDays,
				Attempts:    gs.TotalAttempts,
				Successes:   gs.SuccessCount,
				AvgLatency:  time.Duration(gs.AvgLatencyMs * float64(time.Millisecond)),
				TotalVolume: decimal.NewFromFloat(gs.TotalVolume),
				ObservedAt:  now,
			}
		}
		next[tenantID] = byGateway
	}

	s.snapshots.Store(next)
	s.lastRefresh.Store(time.Now().UnixNano())
	return lastErr
}

// LastRefresh returns when the last refresh cycle completed, or the zero
// time if none has run yet.
func (s *Service) LastRefresh() time.Time {
	n := s.lastRefresh.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// TenantCount returns how many tenants are in the refresh cycle.
func (s *Service) TenantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants)
}

// Start launches the background refresh loop. It returns immediately.
// Calling Start more than once has no effect.
func (s *Service) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(ctx, s.interval)
				if err := s.Refresh(refreshCtx); err != nil {
					logger.Debug("feed refresh cycle completed with errors")
				}
				cancel()
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the background refresh loop and waits for it to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.done
		}
	})
}
