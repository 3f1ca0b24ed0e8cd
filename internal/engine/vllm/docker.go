// Package vllm manages the vLLM containers that serve the OCR and caption
// models. Each engine runs in its own container pinned to one GPU with a
// fixed share of that GPU's memory.
package vllm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage        = "vllm/vllm-openai:latest"
	ContainerNamePrefix = "pdfscribe-"
	ContainerPort       = "8000/tcp"
	CacheDir            = "/root/.cache/huggingface"
	Label               = "pdfscribe-engine"
)

// Role identifies which engine a container serves.
type Role string

const (
	RoleOCR     Role = "ocr"
	RoleCaption Role = "caption"
)

// ContainerStatus represents the state of an engine container.
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusNotFound ContainerStatus = "not_found"
	StatusStarting ContainerStatus = "starting"
)

// EngineSpec describes one engine container.
type EngineSpec struct {
	Role  Role
	Model string
	// Device is the GPU index handed to the nvidia runtime, e.g. "0".
	Device string
	// GPUMemory is the fraction of the device's memory vLLM may claim.
	GPUMemory   float64
	HostPort    string
	MaxModelLen int
	ExtraArgs   []string
}

func (s EngineSpec) validate() error {
	if s.Role == "" {
		return fmt.Errorf("engine role is required")
	}
	if s.Model == "" {
		return fmt.Errorf("%s engine: model is required", s.Role)
	}
	if s.GPUMemory <= 0 || s.GPUMemory > 1 {
		return fmt.Errorf("%s engine: gpu_memory must be in (0, 1], got %v", s.Role, s.GPUMemory)
	}
	if _, err := strconv.Atoi(s.HostPort); err != nil {
		return fmt.Errorf("%s engine: invalid host port %q", s.Role, s.HostPort)
	}
	return nil
}

// Config holds configuration for the container manager.
type Config struct {
	Image string
	// HomePath scopes container names so two installations on one host do
	// not fight over the same containers.
	HomePath string
	// CachePath is the host directory mounted as the HuggingFace cache.
	CachePath string
	HFToken   string
	Labels    map[string]string
}

// Manager manages the engine container lifecycle.
type Manager struct {
	cli       *client.Client
	imageName string
	homePath  string
	cachePath string
	hfToken   string
	labels    map[string]string
}

// NewManager creates a container manager using the Docker environment.
func NewManager(cfg Config) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}

	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	return &Manager{
		cli:       cli,
		imageName: cfg.Image,
		homePath:  cfg.HomePath,
		cachePath: cfg.CachePath,
		hfToken:   cfg.HFToken,
		labels:    labels,
	}, nil
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// ContainerName returns a deterministic name for a role and home directory.
func ContainerName(homePath string, role Role) string {
	sum := sha256.Sum256([]byte(homePath))
	return ContainerNamePrefix + string(role) + "-" + hex.EncodeToString(sum[:])[:8]
}

// URL returns the OpenAI-compatible base URL for an engine.
func URL(spec EngineSpec) string {
	return fmt.Sprintf("http://127.0.0.1:%s/v1", spec.HostPort)
}

// Start starts the container for spec and waits until it serves the model.
// A running container is left alone.
func (m *Manager) Start(ctx context.Context, spec EngineSpec, timeout time.Duration) error {
	if err := spec.validate(); err != nil {
		return err
	}
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, containerID, err := m.containerStatus(ctx, spec.Role)
	if err != nil {
		return err
	}

	switch status {
	case StatusRunning, StatusStarting:
		if err := m.ValidateExisting(ctx, spec); err != nil {
			return err
		}
	case StatusStopped:
		if err := m.ValidateExisting(ctx, spec); err != nil {
			return err
		}
		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing %s container: %w", spec.Role, err)
		}
	case StatusNotFound:
		if err := m.createAndStart(ctx, spec); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s container in unexpected state: %s", spec.Role, status)
	}

	return m.WaitReady(ctx, spec, timeout)
}

// Stop stops the container for role.
func (m *Manager) Stop(ctx context.Context, role Role) error {
	status, containerID, err := m.containerStatus(ctx, role)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	timeout := 30
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop %s container: %w", role, err)
	}
	return nil
}

// Remove stops and removes the container for role.
func (m *Manager) Remove(ctx context.Context, role Role) error {
	status, containerID, err := m.containerStatus(ctx, role)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}
	if status == StatusRunning {
		if err := m.Stop(ctx, role); err != nil {
			return err
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove %s container: %w", role, err)
	}
	return nil
}

// Status returns the current status of the container for role.
func (m *Manager) Status(ctx context.Context, role Role) (ContainerStatus, error) {
	status, _, err := m.containerStatus(ctx, role)
	return status, err
}

// Logs returns the last lines of the container's output.
func (m *Manager) Logs(ctx context.Context, role Role, tail string) (string, error) {
	status, containerID, err := m.containerStatus(ctx, role)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("%s container not found", role)
	}

	logs, err := m.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()

	data, err := io.ReadAll(logs)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(data), nil
}

// ValidateExisting checks that an existing container was created for the
// same model, port and device as spec.
func (m *Manager) ValidateExisting(ctx context.Context, spec EngineSpec) error {
	status, containerID, err := m.containerStatus(ctx, spec.Role)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	info, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to inspect %s container: %w", spec.Role, err)
	}

	if got := info.Config.Labels[Label+".model"]; got != spec.Model {
		return fmt.Errorf("existing %s container serves %q, expected %q; remove it with `pdfscribe engines remove`", spec.Role, got, spec.Model)
	}
	bindings := info.HostConfig.PortBindings[ContainerPort]
	if len(bindings) == 0 || bindings[0].HostPort != spec.HostPort {
		return fmt.Errorf("existing %s container is not bound to port %s", spec.Role, spec.HostPort)
	}
	if got := info.Config.Labels[Label+".device"]; got != spec.Device {
		return fmt.Errorf("existing %s container uses GPU %q, expected %q", spec.Role, got, spec.Device)
	}
	return nil
}

// WaitReady polls the engine's model list until it includes spec.Model.
// vLLM only answers once weights are loaded, which can take minutes.
func (m *Manager) WaitReady(ctx context.Context, spec EngineSpec, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	url := URL(spec) + "/models"

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), spec.Model) {
				return fmt.Errorf("model %s not listed yet", spec.Model)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (m *Manager) createAndStart(ctx context.Context, spec EngineSpec) error {
	if err := m.ensureImage(ctx); err != nil {
		return err
	}

	containerConfig, hostConfig := m.containerConfig(spec)
	resp, err := m.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, ContainerName(m.homePath, spec.Role))
	if err != nil {
		return fmt.Errorf("failed to create %s container: %w", spec.Role, err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start %s container: %w", spec.Role, err)
	}
	return nil
}

// containerConfig builds the Docker configuration for spec.
func (m *Manager) containerConfig(spec EngineSpec) (*container.Config, *container.HostConfig) {
	cmd := []string{
		"--model", spec.Model,
		"--served-model-name", spec.Model,
		"--port", strings.TrimSuffix(ContainerPort, "/tcp"),
		"--gpu-memory-utilization", strconv.FormatFloat(spec.GPUMemory, 'f', 2, 64),
		"--trust-remote-code",
	}
	if spec.MaxModelLen > 0 {
		cmd = append(cmd, "--max-model-len", strconv.Itoa(spec.MaxModelLen))
	}
	cmd = append(cmd, spec.ExtraArgs...)

	labels := make(map[string]string, len(m.labels)+3)
	for k, v := range m.labels {
		labels[k] = v
	}
	labels[Label+".role"] = string(spec.Role)
	labels[Label+".model"] = spec.Model
	labels[Label+".device"] = spec.Device

	var env []string
	if m.hfToken != "" {
		env = append(env, "HF_TOKEN="+m.hfToken)
	}

	containerConfig := &container.Config{
		Image:  m.imageName,
		Cmd:    cmd,
		Env:    env,
		Labels: labels,
		ExposedPorts: nat.PortSet{
			ContainerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			ContainerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: spec.HostPort},
			},
		},
		IpcMode: container.IPCModeHost,
		Resources: container.Resources{
			DeviceRequests: []container.DeviceRequest{{
				Driver:       "nvidia",
				DeviceIDs:    []string{spec.Device},
				Capabilities: [][]string{{"gpu"}},
			}},
		},
	}

	if m.cachePath != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: m.cachePath,
			Target: CacheDir,
		}}
	}

	return containerConfig, hostConfig
}

func (m *Manager) containerStatus(ctx context.Context, role Role) (ContainerStatus, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", ContainerName(m.homePath, role))

	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return StatusNotFound, "", nil
	}

	c := containers[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

func (m *Manager) ensureImage(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.imageName); err == nil {
		return nil
	}

	reader, err := m.cli.ImagePull(ctx, m.imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
