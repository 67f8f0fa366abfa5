package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
)

// ConnectionStatus is the part of the connection registry the probes read.
type ConnectionStatus interface {
	Names() []string
	Has(name string) bool
	PoolStats() datasource.ConnectionStats
}

// ConfigurationStatus is the part of the configuration registry the probes read.
type ConfigurationStatus interface {
	Count() int
	SysReg(code string) (string, bool)
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports whether the core is bootstrapped.
type HealthResponse struct {
	Status         string        `json:"status"`
	Connections    []string      `json:"connections,omitempty"`
	Configurations int           `json:"configurations"`
	SchemaVersion  string        `json:"schema_version,omitempty"`
	Pools          *PoolsSummary `json:"pools,omitempty"`
}

// PoolsSummary is the short form of the pool statistics.
type PoolsSummary struct {
	TotalPools   int            `json:"total_pools"`
	MaxOpenConns int            `json:"max_open_conns"`
	TTLMinutes   int            `json:"ttl_minutes"`
	PoolsByType  map[string]int `json:"pools_by_type"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg            *config.Config
	connections    ConnectionStatus
	configurations ConfigurationStatus
	logger         *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. Either registry may be nil
// while the process is still starting.
func NewHealthHandler(cfg *config.Config, connections ConnectionStatus, configurations ConfigurationStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:            cfg,
		connections:    connections,
		configurations: configurations,
		logger:         logger,
	}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
	mux.HandleFunc("/metrics", h.Metrics)
}

// Health handles GET /health requests.
// Returns 503 until a default connection is registered.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.connections == nil || !h.connections.Has("default") {
		response.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		response.Connections = h.connections.Names()
		stats := h.connections.PoolStats()
		response.Pools = &PoolsSummary{
			TotalPools:   stats.TotalPools,
			MaxOpenConns: stats.MaxOpenConns,
			TTLMinutes:   stats.TTLMinutes,
			PoolsByType:  stats.PoolsByType,
		}
	}
	if h.configurations != nil {
		response.Configurations = h.configurations.Count()
		response.SchemaVersion, _ = h.configurations.SysReg("DB_VERSION")
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-dataservices",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Metrics handles GET /metrics requests with per-pool statistics.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.connections == nil {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "connection registry not initialized"); err != nil {
			h.logger.Error("Failed to encode metrics response", zap.Error(err))
		}
		return
	}
	if err := WriteJSON(w, http.StatusOK, h.connections.PoolStats()); err != nil {
		h.logger.Error("Failed to encode metrics response", zap.Error(err))
	}
}
