package handler

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/paymux/paymux/feed"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/infra/response"
)

// AnalyticsHandler serves per-gateway performance views for the calling
// tenant, from feed snapshots when the feed is running and straight from
// the attempt index otherwise
type AnalyticsHandler struct {
	audit   *opensearch.Logger
	feedSvc *feed.Service
}

// NewAnalyticsHandler creates a new analytics handler. Either dependency
// may be nil.
func NewAnalyticsHandler(audit *opensearch.Logger, feedSvc *feed.Service) *AnalyticsHandler {
	return &AnalyticsHandler{
		audit:   audit,
		feedSvc: feedSvc,
	}
}

// GatewayReport is one gateway's observed performance
type GatewayReport struct {
	Gateway     string  `json:"gateway"`
	Attempts    int64   `json:"attempts"`
	Successes   int64   `json:"successes"`
	SuccessRate float64 `json:"successRate"`
	AvgLatency  string  `json:"avgLatency"`
	TotalVolume float64 `json:"totalVolume"`
	ObservedAt  string  `json:"observedAt,omitempty"`
}

// GetGatewayStats returns observed per-gateway performance for the tenant
func (h *AnalyticsHandler) GetGatewayStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	tenantID := middle.GetTenantIDFromContext(ctx)

	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil && d > 0 && d <= 90 {
			days = d
		}
	}

	// The feed already holds the aggregated window; only fall through to a
	// live aggregation when the feed has nothing for this tenant.
	if h.feedSvc != nil {
		if snapshots := h.feedSvc.Snapshots(tenantID); len(snapshots) > 0 {
			response.Success(w, http.StatusOK, "Gateway stats retrieved", map[string]any{
				"tenantId": tenantID,
				"source":   "feed",
				"gateways": reportsFromSnapshots(snapshots),
			})
			return
		}
	}

	if h.audit == nil {
		response.Success(w, http.StatusOK, "Gateway stats retrieved", map[string]any{
			"tenantId": tenantID,
			"source":   "none",
			"gateways": []GatewayReport{},
		})
		return
	}

	stats, err := h.audit.GetAllGatewayStats(ctx, tenantID, days)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to aggregate gateway stats", err)
		return
	}

	response.Success(w, http.StatusOK, "Gateway stats retrieved", map[string]any{
		"tenantId": tenantID,
		"source":   "audit",
		"days":     days,
		"gateways": reportsFromStats(stats),
	})
}

// GetRecentAttempts searches the tenant's attempt audit trail
func (h *AnalyticsHandler) GetRecentAttempts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if h.audit == nil {
		response.Error(w, http.StatusServiceUnavailable, "Attempt audit logging is not enabled", nil)
		return
	}

	tenantID := middle.GetTenantIDFromContext(ctx)

	params := opensearch.SearchParams{
		Gateway:    r.URL.Query().Get("gateway"),
		Operation:  r.URL.Query().Get("operation"),
		Outcome:    r.URL.Query().Get("outcome"),
		PaymentID:  r.URL.Query().Get("paymentId"),
		ErrorsOnly: r.URL.Query().Get("errorsOnly") == "true",
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			params.Limit = l
		}
	}
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		if hrs, err := strconv.Atoi(hoursStr); err == nil && hrs > 0 && hrs <= 720 {
			start := time.Now().Add(-time.Duration(hrs) * time.Hour)
			params.StartDate = &start
		}
	}

	attempts, err := h.audit.SearchAttempts(ctx, tenantID, params)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to search attempts", err)
		return
	}

	response.Success(w, http.StatusOK, "Attempts retrieved", map[string]any{
		"tenantId": tenantID,
		"count":    len(attempts),
		"attempts": attempts,
	})
}

func reportsFromSnapshots(snapshots map[string]feed.Snapshot) []GatewayReport {
	reports := make([]GatewayReport, 0, len(snapshots))
	for id, snap := range snapshots {
		reports = append(reports, GatewayReport{
			Gateway:     id,
			Attempts:    snap.Attempts,
			Successes:   snap.Successes,
			SuccessRate: snap.SuccessRate() * 100,
			AvgLatency:  snap.AvgLatency.Round(time.Millisecond).String(),
			TotalVolume: snap.TotalVolume.InexactFloat64(),
			ObservedAt:  snap.ObservedAt.Format(time.RFC3339),
		})
	}
	sortReports(reports)
	return reports
}

func reportsFromStats(stats map[string]opensearch.GatewayStats) []GatewayReport {
	reports := make([]GatewayReport, 0, len(stats))
	for id, gs := range stats {
		rate := 0.0
		if gs.TotalAttempts > 0 {
			rate = float64(gs.SuccessCount) / float64(gs.TotalAttempts) * 100
		}
		reports = append(reports, GatewayReport{
			Gateway:     id,
			Attempts:    gs.TotalAttempts,
			Successes:   gs.SuccessCount,
			SuccessRate: rate,
			AvgLatency:  (time.Duration(gs.AvgLatencyMs) * time.Millisecond).String(),
			TotalVolume: gs.TotalVolume,
		})
	}
	sortReports(reports)
	return reports
}

func sortReports(reports []GatewayReport) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Gateway < reports[j].Gateway
	})
}
