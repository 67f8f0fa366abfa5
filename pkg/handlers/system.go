package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// SystemOperations is the maintenance surface the system routes drive.
type SystemOperations interface {
	RefreshConnections(ctx context.Context) error
	RefreshConfigurations(ctx context.Context) error
	TestNamed(ctx context.Context, name string) error
	ExportConfigurations(filter string) ([]byte, error)
	ExportConnections() ([]byte, error)
}

// SystemHandler serves the /_system maintenance routes. It never routes
// reads or writes of client configurations.
type SystemHandler struct {
	system SystemOperations
	logger *zap.Logger
}

func NewSystemHandler(system SystemOperations, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		system: system,
		logger: logger,
	}
}

// RegisterRoutes registers the system routes on the given mux.
func (h *SystemHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /_system/connections/refresh", h.RefreshConnections)
	mux.HandleFunc("POST /_system/configurations/refresh", h.RefreshConfigurations)
	mux.HandleFunc("GET /_system/connections/test", h.TestConnection)
	mux.HandleFunc("GET /_system/connections/download", h.DownloadConnections)
	mux.HandleFunc("GET /_system/configurations/download", h.DownloadConfigurations)
}

func (h *SystemHandler) RefreshConnections(w http.ResponseWriter, r *http.Request) {
	if err := h.system.RefreshConnections(r.Context()); err != nil {
		h.fail(w, "Failed to refresh connections", err)
		return
	}
	h.text(w, "refreshed")
}

func (h *SystemHandler) RefreshConfigurations(w http.ResponseWriter, r *http.Request) {
	if err := h.system.RefreshConfigurations(r.Context()); err != nil {
		h.fail(w, "Failed to refresh configurations", err)
		return
	}
	h.text(w, "refreshed")
}

// TestConnection handles GET /_system/connections/test?name=...
func (h *SystemHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "bad_request", "name parameter is required"); err != nil {
			h.logger.Error("Failed to encode error response", zap.Error(err))
		}
		return
	}
	if err := h.system.TestNamed(r.Context(), name); err != nil {
		h.fail(w, "Connection test failed", err)
		return
	}
	h.text(w, "true")
}

func (h *SystemHandler) DownloadConnections(w http.ResponseWriter, r *http.Request) {
	data, err := h.system.ExportConnections()
	if err != nil {
		h.fail(w, "Failed to export connections", err)
		return
	}
	h.attachment(w, "connections.json", data)
}

// DownloadConfigurations handles GET /_system/configurations/download?filter=...
// An empty filter exports everything.
func (h *SystemHandler) DownloadConfigurations(w http.ResponseWriter, r *http.Request) {
	data, err := h.system.ExportConfigurations(r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, "Failed to export configurations", err)
		return
	}
	h.attachment(w, "configurations.json", data)
}

func (h *SystemHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	if err := WriteError(w, err); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func (h *SystemHandler) text(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SystemHandler) attachment(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := WriteResult(w, string(data)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
