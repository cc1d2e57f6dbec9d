package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"syscall"
	"time"

	"github.com/paymux/paymux/feed"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/config"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/infra/response"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store     *config.CredentialStore
	registry  *gateway.Registry
	feedSvc   *feed.Service
	audit     *opensearch.Logger
	startTime time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Timestamp   time.Time                 `json:"timestamp"`
	Uptime      string                    `json:"uptime"`
	Environment string                    `json:"environment"`
	Store       *StoreHealth              `json:"store"`
	Gateways    []string                  `json:"gateways"`
	Feed        *FeedHealth               `json:"feed"`
	System      *SystemHealth             `json:"system"`
	Services    map[string]*ServiceHealth `json:"services"`
}

// StoreHealth represents credential store health
type StoreHealth struct {
	Status       string        `json:"status"`
	Connected    bool          `json:"connected"`
	ResponseTime time.Duration `json:"response_time_ms"`
	Credentials  any           `json:"credentials,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// FeedHealth represents the performance feed's refresh state
type FeedHealth struct {
	Status      string `json:"status"`
	Tenants     int    `json:"tenants"`
	LastRefresh string `json:"last_refresh,omitempty"`
	StaleFor    string `json:"stale_for,omitempty"`
}

// SystemHealth represents system resource health
type SystemHealth struct {
	Memory     *MemoryHealth `json:"memory"`
	Disk       *DiskHealth   `json:"disk"`
	GoRoutines int           `json:"goroutines"`
}

// MemoryHealth represents memory usage
type MemoryHealth struct {
	Alloc        string  `json:"alloc"`
	TotalAlloc   string  `json:"total_alloc"`
	Sys          string  `json:"sys"`
	GCRuns       uint32  `json:"gc_runs"`
	UsagePercent float64 `json:"usage_percent"`
}

// DiskHealth represents disk usage
type DiskHealth struct {
	Available    string  `json:"available"`
	Used         string  `json:"used"`
	Total        string  `json:"total"`
	UsagePercent float64 `json:"usage_percent"`
	Status       string  `json:"status"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status      string `json:"status"`
	Healthy     bool   `json:"healthy"`
	LastCheck   string `json:"last_check"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler. feedSvc and audit may be nil.
func NewHealthHandler(store *config.CredentialStore, registry *gateway.Registry, feedSvc *feed.Service, audit *opensearch.Logger) *HealthHandler {
	return &HealthHandler{
		store:     store,
		registry:  registry,
		feedSvc:   feedSvc,
		audit:     audit,
		startTime: time.Now(),
	}
}

// CheckHealth performs comprehensive health checks
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:     "1.0.0",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).String(),
		Environment: getEnvironment(),
		Store:       h.checkStoreHealth(ctx),
		Gateways:    h.registeredGateways(),
		Feed:        h.checkFeedHealth(),
		System:      h.checkSystemHealth(),
		Services:    h.checkServicesHealth(),
	}

	health.Status = h.determineOverallStatus(health)

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

// checkStoreHealth checks the credential store
func (h *HealthHandler) checkStoreHealth(ctx context.Context) *StoreHealth {
	storeHealth := &StoreHealth{
		Status:    "unknown",
		Connected: false,
	}

	if h.store == nil {
		storeHealth.Status = "not_configured"
		storeHealth.Error = "Credential store not configured"
		return storeHealth
	}

	start := time.Now()
	stats, err := h.store.Stats()
	storeHealth.ResponseTime = time.Since(start)

	if err != nil {
		storeHealth.Status = "unhealthy"
		storeHealth.Error = err.Error()
		return storeHealth
	}

	storeHealth.Connected = true
	storeHealth.Credentials = stats

	if storeHealth.ResponseTime > time.Second {
		storeHealth.Status = "degraded"
	} else {
		storeHealth.Status = "healthy"
	}

	return storeHealth
}

func (h *HealthHandler) registeredGateways() []string {
	if h.registry == nil {
		return nil
	}
	return h.registry.Names()
}

// checkFeedHealth reports whether the performance feed is still refreshing.
// A feed that has not refreshed for a long time silently degrades routing
// quality, so it shows up here.
func (h *HealthHandler) checkFeedHealth() *FeedHealth {
	if h.feedSvc == nil {
		return &FeedHealth{Status: "not_configured"}
	}

	feedHealth := &FeedHealth{
		Status:  "healthy",
		Tenants: h.feedSvc.TenantCount(),
	}

	last := h.feedSvc.LastRefresh()
	if last.IsZero() {
		// No cycle has run yet; normal right after startup.
		feedHealth.Status = "starting"
		return feedHealth
	}

	feedHealth.LastRefresh = last.Format(time.RFC3339)
	staleFor := time.Since(last)
	feedHealth.StaleFor = staleFor.Round(time.Second).String()

	if staleFor > 10*time.Minute {
		feedHealth.Status = "stale"
	}

	return feedHealth
}

// checkSystemHealth checks system resource health
func (h *HealthHandler) checkSystemHealth() *SystemHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemHealth{
		Memory: &MemoryHealth{
			Alloc:        formatBytes(memStats.Alloc),
			TotalAlloc:   formatBytes(memStats.TotalAlloc),
			Sys:          formatBytes(memStats.Sys),
			GCRuns:       memStats.NumGC,
			UsagePercent: calculateMemoryUsagePercent(memStats),
		},
		Disk:       h.getDiskUsage(),
		GoRoutines: runtime.NumGoroutine(),
	}
}

// checkServicesHealth checks individual service health
func (h *HealthHandler) checkServicesHealth() map[string]*ServiceHealth {
	services := make(map[string]*ServiceHealth)
	now := time.Now().UTC().Format(time.RFC3339)

	services["credential_store"] = &ServiceHealth{LastCheck: now}
	if h.store != nil {
		services["credential_store"].Status = "healthy"
		services["credential_store"].Healthy = true
		services["credential_store"].Description = "Encrypted gateway credential storage"
	} else {
		services["credential_store"].Status = "unhealthy"
		services["credential_store"].Healthy = false
		services["credential_store"].Error = "Credential store not initialized"
	}

	services["audit_log"] = &ServiceHealth{LastCheck: now}
	if h.audit != nil {
		services["audit_log"].Status = "healthy"
		services["audit_log"].Healthy = true
		services["audit_log"].Description = "Attempt audit logging to OpenSearch"
	} else {
		services["audit_log"].Status = "not_configured"
		services["audit_log"].Healthy = false
		services["audit_log"].Description = "OpenSearch logging not configured"
	}

	services["performance_feed"] = &ServiceHealth{LastCheck: now}
	if h.feedSvc != nil {
		services["performance_feed"].Status = "healthy"
		services["performance_feed"].Healthy = true
		services["performance_feed"].Description = "Gateway performance snapshot feed"
	} else {
		services["performance_feed"].Status = "not_configured"
		services["performance_feed"].Healthy = false
		services["performance_feed"].Description = "Feed not configured; routing uses declared baselines"
	}

	return services
}

// determineOverallStatus determines overall system status
func (h *HealthHandler) determineOverallStatus(health *HealthStatus) string {
	if health.Store != nil && health.Store.Status == "unhealthy" {
		return "unhealthy"
	}
	if service, exists := health.Services["credential_store"]; exists && !service.Healthy {
		return "unhealthy"
	}
	if len(health.Gateways) == 0 {
		return "unhealthy"
	}

	if health.System != nil {
		if health.System.Memory.UsagePercent > 90 {
			return "degraded"
		}
		if health.System.Disk != nil && health.System.Disk.UsagePercent > 90 {
			return "degraded"
		}
	}

	if health.Store != nil && health.Store.Status == "degraded" {
		return "degraded"
	}
	if health.Feed != nil && health.Feed.Status == "stale" {
		return "degraded"
	}

	return "healthy"
}

// Helper functions

func getEnvironment() string {
	if env := config.GetEnv("ENVIRONMENT", ""); env != "" {
		return env
	}
	if env := config.GetEnv("ENV", ""); env != "" {
		return env
	}
	return "development"
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func calculateMemoryUsagePercent(memStats runtime.MemStats) float64 {
	return (float64(memStats.Alloc) / float64(memStats.Sys)) * 100
}

func (h *HealthHandler) getDiskUsage() *DiskHealth {
	var stat syscall.Statfs_t

	disk := &DiskHealth{
		Status: "unknown",
	}

	if err := syscall.Statfs("/", &stat); err != nil {
		disk.Status = "error"
		return disk
	}

	available := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	used := total - (stat.Bfree * uint64(stat.Bsize))

	disk.Available = formatBytes(available)
	disk.Total = formatBytes(total)
	disk.Used = formatBytes(used)
	disk.UsagePercent = (float64(used) / float64(total)) * 100

	if disk.UsagePercent > 90 {
		disk.Status = "critical"
	} else if disk.UsagePercent > 80 {
		disk.Status = "warning"
	} else {
		disk.Status = "healthy"
	}

	return disk
}
