package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/jobs"
	"github.com/jackzampolin/pdfscribe/internal/svcctx"
)

// HealthResponse reports whether the engines are loaded.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	OCRModel string `json:"ocr_model"`
	VL2Model string `json:"vl2_model"`
	Error    string `json:"error,omitempty"`
}

// HealthEndpoint handles GET /v1/health.
type HealthEndpoint struct{}

var _ api.Endpoint = (*HealthEndpoint)(nil)

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Service health
//	@Description	Reports ok once both engines are loaded, with the model names
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/v1/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Error: engine.ErrNotInitialized.Error()})
		return
	}

	engines, err := registry.Engines()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		OK:       true,
		OCRModel: engines.OCRModel(),
		VL2Model: engines.CaptionModel(),
	})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/v1/health", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// StatusResponse is the models status response. Busy is advisory: it may
// change before the caller acts on it.
type StatusResponse struct {
	OCRModel string              `json:"ocr_model"`
	VL2Model string              `json:"vl2_model"`
	Busy     bool                `json:"busy"`
	Slots    int                 `json:"slots"`
	Held     int                 `json:"held"`
	Pool     *jobs.PoolStatus    `json:"pool,omitempty"`
	Jobs     map[jobs.Status]int `json:"jobs,omitempty"`
}

// ModelsStatusEndpoint handles GET /v1/models/status.
type ModelsStatusEndpoint struct{}

func (e *ModelsStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/models/status", e.handler
}

func (e *ModelsStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Models status
//	@Description	Loaded models and whether the GPU gate is currently saturated
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/v1/models/status [get]
func (e *ModelsStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil {
		writeError(w, http.StatusServiceUnavailable, engine.ErrNotInitialized.Error())
		return
	}
	engines, err := registry.Engines()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	stats := engines.Gate.Stats()
	resp := StatusResponse{
		OCRModel: engines.OCRModel(),
		VL2Model: engines.CaptionModel(),
		Busy:     stats.Saturated,
		Slots:    stats.Capacity,
		Held:     stats.Held,
	}
	if pool := svcctx.PoolFrom(r.Context()); pool != nil {
		status := pool.Status()
		resp.Pool = &status
	}
	if jm := svcctx.JobManagerFrom(r.Context()); jm != nil {
		resp.Jobs = jm.Counts()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ModelsStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show loaded models and GPU occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/v1/models/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
