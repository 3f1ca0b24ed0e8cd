package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/pdfscribe/internal/admission"
	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/config"
	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/engine/vllm"
	"github.com/jackzampolin/pdfscribe/internal/home"
	"github.com/jackzampolin/pdfscribe/internal/jobs"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/pipeline"
	"github.com/jackzampolin/pdfscribe/internal/rasterize"
	"github.com/jackzampolin/pdfscribe/internal/server/endpoints"
	"github.com/jackzampolin/pdfscribe/internal/svcctx"
)

// Server is the pdfscribe HTTP server.
// The listener comes up first so health checks answer while the engines
// load; routes that need the engines return 503 until loading finishes.
// With engines.runtime.managed set it also owns the vLLM containers,
// starting them before the engines load and stopping them on shutdown.
type Server struct {
	httpServer *http.Server
	registry   *engine.Registry
	jobManager *jobs.Manager
	pool       *jobs.Pool
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger
	levelVar   *slog.LevelVar

	loader     engine.Loader
	rasterizer pipeline.Rasterizer
	vllm       *vllm.Manager

	// services is replaced wholesale once the engines are up.
	services atomic.Pointer[svcctx.Services]

	endpointRegistry *api.Registry

	ready chan struct{}

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: from config, else 127.0.0.1)
	Host string
	// Port is the port to listen on (default: from config, else 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the pdfscribe home directory. Required for managed engines.
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
	// LevelVar, when set, follows log.level across config reloads.
	LevelVar *slog.LevelVar
	// Loader replaces engine construction from config.
	Loader engine.Loader
	// Rasterizer replaces the pdftoppm rasterizer.
	Rasterizer pipeline.Rasterizer
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		configMgr:  cfg.ConfigManager,
		home:       cfg.Home,
		logger:     cfg.Logger,
		levelVar:   cfg.LevelVar,
		loader:     cfg.Loader,
		rasterizer: cfg.Rasterizer,
		ready:      make(chan struct{}),
	}
	conf := s.config()

	host, port, err := net.SplitHostPort(conf.Addr())
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	if cfg.Host != "" {
		host = cfg.Host
	}
	if cfg.Port != "" {
		port = cfg.Port
	}

	if s.rasterizer == nil {
		s.rasterizer = rasterize.New(rasterize.Config{Logger: s.logger.With("component", "rasterize")})
	}

	s.registry = engine.NewRegistry(s.logger)
	s.jobManager = jobs.NewManager(jobs.ManagerConfig{Logger: s.logger})
	s.pool = jobs.NewPool(jobs.PoolConfig{
		Name:        "gpu",
		Logger:      s.logger,
		WorkerCount: conf.Admission.GPUSlots,
	})

	s.services.Store(&svcctx.Services{
		Registry:      s.registry,
		JobManager:    s.jobManager,
		Pool:          s.pool,
		ConfigManager: s.configMgr,
		Logger:        s.logger,
		Home:          s.home,
	})

	if s.configMgr != nil {
		s.configMgr.OnChange(s.onConfigChange)
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	// No write timeout: a blocking process request lasts as long as the job.
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(host, port),
		Handler:           s.withServices(mux),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start starts the server and loads the engines.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.running = true
	s.listener = ln
	s.mu.Unlock()

	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	go s.pool.Start(poolCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	go s.initEngines(initCtx)

	if s.configMgr != nil && s.configMgr.File() != "" {
		s.configMgr.WatchConfig()
	}

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// initEngines loads the engines and completes the service set. A failure
// is recorded in the registry and reported by the health endpoint.
func (s *Server) initEngines(ctx context.Context) {
	conf := s.config()

	load := s.loader
	if load == nil {
		load = func(ctx context.Context) (*engine.Engines, error) {
			if conf.Engines.Runtime.Managed {
				if err := s.startManagedEngines(ctx, conf); err != nil {
					return nil, err
				}
			}
			return engine.Build(ctx, conf.ToEngineConfig(), s.logger)
		}
	}

	engines, err := s.registry.Init(ctx, load)
	if err != nil {
		return
	}

	acfg := conf.ToAdmissionConfig()
	acfg.Gate = engines.Gate
	acfg.Logger = s.logger.With("component", "admission")
	controller, err := admission.NewController(acfg)
	if err != nil {
		s.logger.Error("failed to create admission controller", "error", err)
		return
	}

	workRoot := conf.WorkDir(s.defaultWorkRoot())
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		s.logger.Error("failed to create work root", "path", workRoot, "error", err)
		return
	}

	executor, err := pipeline.NewExecutor(pipeline.Config{
		Registry:     s.registry,
		Rasterizer:   s.rasterizer,
		Rewriter:     markdown.NewGroundingRewriter(),
		Pool:         s.pool,
		Jobs:         s.jobManager,
		WorkRoot:     workRoot,
		KeepWorkdirs: conf.Pipeline.KeepWorkdirs,
		Logger:       s.logger,
	})
	if err != nil {
		s.logger.Error("failed to create executor", "error", err)
		return
	}

	svc := *s.services.Load()
	svc.Admission = controller
	svc.Executor = executor
	s.services.Store(&svc)
	close(s.ready)

	s.logger.Info("server ready", "gpu_slots", engines.Gate.Capacity(), "work_root", workRoot)
}

// startManagedEngines brings up the OCR and caption containers.
func (s *Server) startManagedEngines(ctx context.Context, conf *config.Config) error {
	if s.home == nil {
		return errors.New("managed engines require a home directory")
	}
	specs, err := conf.EngineSpecs()
	if err != nil {
		return err
	}
	mgr, err := vllm.NewManager(conf.ToRuntimeConfig(s.home.Path(), s.home.ModelCachePath()))
	if err != nil {
		return fmt.Errorf("failed to create engine runtime: %w", err)
	}

	s.mu.Lock()
	s.vllm = mgr
	s.mu.Unlock()

	timeout := time.Duration(conf.Engines.Runtime.StartupTimeoutSeconds) * time.Second
	for _, spec := range specs {
		s.logger.Info("starting engine container", "role", spec.Role, "model", spec.Model, "url", vllm.URL(spec))
		if err := mgr.Start(ctx, spec, timeout); err != nil {
			return fmt.Errorf("failed to start %s engine: %w", spec.Role, err)
		}
	}
	return nil
}

func (s *Server) onConfigChange(c *config.Config) {
	if s.levelVar != nil {
		s.levelVar.Set(c.SlogLevel())
	}
	s.logger.Info("config reloaded; engine connection and admission settings apply on restart",
		"log_level", c.Log.Level, "dpi", c.Pipeline.DPI, "rewrite_mode", c.Pipeline.RewriteMode, "caption_prompt_set", c.Engines.Caption.Prompt != "")
}

// shutdown stops the HTTP server and any managed engine containers.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.mu.RLock()
	mgr := s.vllm
	s.mu.RUnlock()
	if mgr != nil {
		for _, role := range []vllm.Role{vllm.RoleCaption, vllm.RoleOCR} {
			s.logger.Info("stopping engine container", "role", role)
			if err := mgr.Stop(shutdownCtx, role); err != nil {
				s.logger.Error("engine stop error", "role", role, "error", err)
			}
		}
		if err := mgr.Close(); err != nil {
			s.logger.Error("engine runtime close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Ready is closed once the engines are loaded and jobs are accepted.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Registry returns the engine registry.
func (s *Server) Registry() *engine.Registry {
	return s.registry
}

// JobManager returns the job manager.
func (s *Server) JobManager() *jobs.Manager {
	return s.jobManager
}

// Addr returns the server's listen address. Once started it is the bound
// address, which matters when the configured port is 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

func (s *Server) config() *config.Config {
	if s.configMgr == nil {
		return config.DefaultConfig()
	}
	return s.configMgr.Get()
}

func (s *Server) defaultWorkRoot() string {
	if s.home != nil {
		return s.home.JobsPath()
	}
	return filepath.Join(os.TempDir(), "pdfscribe", "jobs")
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := svcctx.WithServices(r.Context(), s.services.Load())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the engines are loaded.
// Returns 503 Service Unavailable with the load error otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services.Load().Executor == nil {
			err := s.registry.Err()
			if err == nil {
				err = engine.ErrNotInitialized
			}
			writeJSON(w, http.StatusServiceUnavailable, endpoints.ErrorResponse{Error: err.Error()})
			return
		}
		next(w, r)
	}
}
