package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/engine/vllm"
)

var enginesTail string

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Manage the vLLM engine containers",
	Long: `Manage the OCR and caption engine containers on the local Docker host.

Each engine runs the vLLM OpenAI-compatible server on the port taken from
engines.<role>.base_url, pinned to engines.<role>.device. Model weights are
cached under ~/.pdfscribe/cache/huggingface.

Commands take an optional role (ocr or caption); without one they act on both.`,
}

// engineStatus is one row of 'engines status'.
type engineStatus struct {
	Role      vllm.Role            `json:"role"`
	Container string               `json:"container"`
	Model     string               `json:"model"`
	URL       string               `json:"url"`
	Status    vllm.ContainerStatus `json:"status"`
}

// withEngines resolves the specs selected by args and runs fn with a
// container manager.
func withEngines(args []string, fn func(e *env, mgr *vllm.Manager, specs []vllm.EngineSpec) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	cfg := e.config.Get()

	all, err := cfg.EngineSpecs()
	if err != nil {
		return err
	}
	specs := all
	if len(args) == 1 {
		specs = nil
		for _, s := range all {
			if string(s.Role) == args[0] {
				specs = append(specs, s)
			}
		}
		if len(specs) == 0 {
			return fmt.Errorf("unknown engine role %q (want %s or %s)", args[0], vllm.RoleOCR, vllm.RoleCaption)
		}
	}

	mgr, err := vllm.NewManager(cfg.ToRuntimeConfig(e.home.Path(), e.home.ModelCachePath()))
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(e, mgr, specs)
}

var enginesStartCmd = &cobra.Command{
	Use:   "start [role]",
	Short: "Start engine containers and wait until they serve",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngines(args, func(e *env, mgr *vllm.Manager, specs []vllm.EngineSpec) error {
			if err := os.MkdirAll(e.home.ModelCachePath(), 0o755); err != nil {
				return err
			}
			timeout := time.Duration(e.config.Get().Engines.Runtime.StartupTimeoutSeconds) * time.Second
			for _, spec := range specs {
				e.logger.Info("starting engine", "role", spec.Role, "model", spec.Model, "device", spec.Device)
				if err := mgr.Start(cmd.Context(), spec, timeout); err != nil {
					return err
				}
				e.logger.Info("engine ready", "role", spec.Role, "url", vllm.URL(spec))
			}
			return nil
		})
	},
}

var enginesStopCmd = &cobra.Command{
	Use:   "stop [role]",
	Short: "Stop engine containers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngines(args, func(e *env, mgr *vllm.Manager, specs []vllm.EngineSpec) error {
			for _, spec := range specs {
				if err := mgr.Stop(cmd.Context(), spec.Role); err != nil {
					return err
				}
				e.logger.Info("engine stopped", "role", spec.Role)
			}
			return nil
		})
	},
}

var enginesRemoveCmd = &cobra.Command{
	Use:   "remove [role]",
	Short: "Stop and remove engine containers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngines(args, func(e *env, mgr *vllm.Manager, specs []vllm.EngineSpec) error {
			for _, spec := range specs {
				if err := mgr.Remove(cmd.Context(), spec.Role); err != nil {
					return err
				}
				e.logger.Info("engine removed", "role", spec.Role)
			}
			return nil
		})
	},
}

var enginesStatusCmd = &cobra.Command{
	Use:   "status [role]",
	Short: "Show engine container status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngines(args, func(e *env, mgr *vllm.Manager, specs []vllm.EngineSpec) error {
			rows := make([]engineStatus, 0, len(specs))
			for _, spec := range specs {
				status, err := mgr.Status(cmd.Context(), spec.Role)
				if err != nil {
					return err
				}
				rows = append(rows, engineStatus{
					Role:      spec.Role,
					Container: vllm.ContainerName(e.home.Path(), spec.Role),
					Model:     spec.Model,
					URL:       vllm.URL(spec),
					Status:    status,
				})
			}
			return api.Output(rows)
		})
	},
}

var enginesLogsCmd = &cobra.Command{
	Use:   "logs <role>",
	Short: "Print recent engine container output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngines(args, func(e *env, mgr *vllm.Manager, specs []vllm.EngineSpec) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			logs, err := mgr.Logs(ctx, specs[0].Role, enginesTail)
			if err != nil {
				return err
			}
			fmt.Print(logs)
			return nil
		})
	},
}

func init() {
	enginesLogsCmd.Flags().StringVar(&enginesTail, "tail", "200", "Number of lines to show")

	enginesCmd.AddCommand(enginesStartCmd, enginesStopCmd, enginesRemoveCmd, enginesStatusCmd, enginesLogsCmd)
	rootCmd.AddCommand(enginesCmd)
}
