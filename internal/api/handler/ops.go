// Package handler provides HTTP handlers for the SmogView API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/smogview/smogview/internal/api/models"
	"github.com/smogview/smogview/internal/api/response"
	"github.com/smogview/smogview/internal/provider/resilience"
)

// ReadinessProbe reports whether a dependency can serve requests.
type ReadinessProbe func(ctx context.Context) error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	probes    map[string]ReadinessProbe
}

// NewOpsHandler creates a new OpsHandler. Provider status is read from
// registry; probes are checked by the readiness and status endpoints.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, probes map[string]ReadinessProbe) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		registry:  registry,
		probes:    probes,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.checkSubsystems(r.Context())

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	for _, s := range subsystems {
		if s.Status == models.HealthStatusFail {
			health.Status = models.HealthStatusFail
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
// The provider being down only degrades the service, since cached data is
// still served.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.checkSubsystems(r.Context()),
		Providers:  h.providerStatus(),
	}

	for _, s := range status.Subsystems {
		if s.Status == models.HealthStatusFail {
			status.Status = models.HealthStatusFail
		}
	}
	for _, p := range status.Providers {
		if p.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
			status.Status = models.HealthStatusDegraded
			status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, "serving-cached-"+p.Provider)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) checkSubsystems(ctx context.Context) []models.SubsystemStatus {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.SubsystemStatus, 0, len(names))
	for _, name := range names {
		s := models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
		if err := h.probes[name](ctx); err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out
}

func (h *OpsHandler) providerStatus() []models.ProviderStatus {
	if h.registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.registry.GetAllHealth()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, ph := range all {
		ps := models.ProviderStatus{
			Provider:     ph.Name,
			Status:       models.HealthStatusOK,
			CircuitState: ph.CircuitState.String(),
		}
		switch {
		case ph.IsUnhealthy():
			ps.Status = models.HealthStatusFail
		case ph.IsDegraded(), ph.Failing():
			ps.Status = models.HealthStatusDegraded
		}
		if ph.LastSuccessAt != nil {
			t := models.Timestamp(*ph.LastSuccessAt)
			ps.LastSuccessAt = &t
		}
		if ph.LastFailureAt != nil {
			t := models.Timestamp(*ph.LastFailureAt)
			ps.LastFailureAt = &t
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}
