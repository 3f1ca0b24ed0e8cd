package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pdfscribe server",
	Long: `Start the pdfscribe HTTP server.

The listener starts immediately and the engines load in the background;
/v1/health reports 503 until both models answer. With
engines.runtime.managed set, the vLLM containers are started first and
stopped again when the server shuts down.

The server provides:
  - POST /v1/process/pdf    - PDF in, zip of per-page markdown out
  - GET  /v1/health         - Loaded models, or the load error
  - GET  /v1/models/status  - GPU occupancy and queue depth
  - GET  /v1/jobs           - Tracked jobs (DELETE /v1/jobs/{id} cancels)
  - GET  /swagger.json      - OpenAPI document

Examples:
  pdfscribe serve                    # Start on the configured address
  pdfscribe serve --port 3000        # Start on custom port
  pdfscribe serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: e.config,
			Home:          e.home,
			Logger:        e.logger,
			LevelVar:      e.levelVar,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")

	rootCmd.AddCommand(serveCmd)
}
