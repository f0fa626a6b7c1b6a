// Package preview owns the single live dev-server process per project:
// port allocation, spawn, readiness observation, and teardown. Every state
// transition is published through the event hub as a preview_status event.
package preview

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codeloft/stagehand/pkg/hub"
	"github.com/codeloft/stagehand/pkg/logging"
	"github.com/codeloft/stagehand/pkg/ports"
)

// State is a dev-server lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateReady    State = "ready"
	StateError    State = "error"
	StateStopped  State = "stopped"
)

// active reports whether the state represents a live process. A fresh
// Start call against an inactive state spawns a new process.
func (s State) active() bool {
	return s == StateStarting || s == StateRunning || s == StateReady
}

// Instance is the descriptor callers receive for a supervised process.
type Instance struct {
	ProjectID string    `json:"projectId"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid,omitempty"`
	State     State     `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Publisher is the hub surface the supervisor reports into.
type Publisher interface {
	Publish(projectID string, event hub.Event)
}

// Config configures a Supervisor.
type Config struct {
	// Command is the argv used to spawn a project's dev server. Every
	// occurrence of "{port}" in an element is replaced by the allocated
	// port. The spawned process also receives PORT in its environment.
	Command []string

	// WorkspaceRoot is the parent directory of project workspaces; the
	// process runs in WorkspaceRoot/<projectID>. Empty means inherit the
	// server's working directory.
	WorkspaceRoot string

	// PortRange bounds port allocation.
	PortRange ports.Range

	// ReadyTimeout bounds the readiness observation after spawn.
	// Defaults to 30s.
	ReadyTimeout time.Duration

	// ReadyPath is the HTTP path polled on loopback for readiness.
	// Defaults to "/".
	ReadyPath string

	// Probe overrides the readiness check. A nil error means ready.
	// Used by tests; the default polls the dev server over HTTP.
	Probe func(ctx context.Context, port int) error

	// Logger is optional.
	Logger *logging.Logger
}

// Supervisor owns at most one live process per project. Start and Stop
// for the same project are serialized; unrelated projects never contend.
type Supervisor struct {
	cfg    Config
	alloc  *ports.Allocator
	pub    Publisher
	logger *logging.Logger

	mu     sync.RWMutex
	procs  map[string]*process
	flight singleflight.Group
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(cfg Config, pub Publisher) *Supervisor {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.ReadyPath == "" {
		cfg.ReadyPath = "/"
	}
	return &Supervisor{
		cfg:    cfg,
		alloc:  ports.NewAllocator(),
		pub:    pub,
		logger: cfg.Logger,
		procs:  make(map[string]*process),
	}
}

// Start brings up the dev server for projectID. If an instance is already
// starting, running, or ready, the existing descriptor is returned instead
// of spawning a second process: idempotent by project, not by call.
// Allocation and spawn failures surface synchronously to the caller.
func (s *Supervisor) Start(ctx context.Context, projectID string) (Instance, error) {
	v, err, _ := s.flight.Do(projectID, func() (any, error) {
		return s.startOne(ctx, projectID)
	})
	if err != nil {
		return Instance{}, err
	}
	return v.(Instance), nil
}

func (s *Supervisor) startOne(ctx context.Context, projectID string) (Instance, error) {
	s.mu.RLock()
	existing := s.procs[projectID]
	s.mu.RUnlock()
	if existing != nil {
		if inst := existing.describe(); inst.State.active() {
			return inst, nil
		}
	}

	port, err := s.alloc.Allocate(ctx, s.cfg.PortRange)
	if err != nil {
		metricAllocationFailures.Inc()
		s.logger.Error(logging.CategoryPorts, "allocation_failed", projectID, err, nil)
		return Instance{}, fmt.Errorf("allocate preview port: %w", err)
	}

	p := &process{
		projectID: projectID,
		state:     StateStarting,
		port:      port,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
	}
	s.mu.Lock()
	s.procs[projectID] = p
	s.mu.Unlock()
	s.publishState(p)

	cmd := s.buildCommand(projectID, port)
	if err := cmd.Start(); err != nil {
		p.transition(StateError, "spawn failed: "+err.Error())
		s.publishState(p)
		s.pub.Publish(projectID, hub.Event{Type: hub.EventError, Data: map[string]any{
			"message": "preview process failed to start",
			"detail":  err.Error(),
		}})
		metricSpawnFailures.Inc()
		s.logger.Error(logging.CategoryPreview, "spawn_failed", projectID, err, map[string]any{"port": port})
		return Instance{}, fmt.Errorf("spawn preview process: %w", err)
	}

	metricPreviewsRunning.Inc()
	adopted := p.adoptSpawn(cmd)
	go s.watch(p)

	if !adopted {
		// A concurrent Stop ended the run between registration and spawn;
		// its decision stands and the child must not outlive it.
		s.killAndAwait(p)
		s.logger.Log(logging.LevelInfo, logging.CategoryPreview, "process_stopped_during_spawn", projectID, "", map[string]any{"port": port})
		return p.describe(), nil
	}

	s.publishState(p)
	s.logger.Log(logging.LevelInfo, logging.CategoryPreview, "process_started", projectID, "", map[string]any{
		"port": port,
		"pid":  p.pid,
	})

	go s.observeReadiness(p)

	return p.describe(), nil
}

// Stop terminates the project's process if one is alive. Stopping an
// absent or already-dead process is a no-op, not an error.
func (s *Supervisor) Stop(projectID string) error {
	s.mu.RLock()
	p := s.procs[projectID]
	s.mu.RUnlock()
	if p == nil {
		return nil
	}

	p.mu.Lock()
	alive := p.cmd != nil && !closed(p.exited)
	if !p.state.active() && !alive {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopped
	p.detail = ""
	p.mu.Unlock()

	s.killAndAwait(p)

	s.publishState(p)
	s.logger.Log(logging.LevelInfo, logging.CategoryPreview, "process_stopped", projectID, "", map[string]any{"port": p.port})
	return nil
}

// killAndAwait terminates the child and waits for the exit watcher to reap
// it, bounded so a wedged process cannot hang the caller.
func (s *Supervisor) killAndAwait(p *process) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
	}
}

// closed reports whether ch is closed without blocking.
func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// StopAll tears down every live process, used on server shutdown.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}
}

// Status returns the current descriptor for projectID. A project with no
// supervised process reports idle.
func (s *Supervisor) Status(projectID string) Instance {
	s.mu.RLock()
	p := s.procs[projectID]
	s.mu.RUnlock()
	if p == nil {
		return Instance{ProjectID: projectID, State: StateIdle}
	}
	return p.describe()
}

// Snapshot implements hub.Snapshotter: new connections receive the current
// preview state immediately.
func (s *Supervisor) Snapshot(ctx context.Context, projectID string) []hub.Event {
	return []hub.Event{statusEvent(s.Status(projectID))}
}

// watch observes process exit. An exit while the state is still active is a
// crash: the state becomes error with diagnostic detail, and no restart is
// attempted; a fresh Start call is required. An exit in a terminal state is
// the supervisor reaping its own kill.
func (s *Supervisor) watch(p *process) {
	err := p.cmd.Wait()
	close(p.exited)
	metricPreviewsRunning.Dec()

	p.mu.Lock()
	expected := !p.state.active()
	p.mu.Unlock()
	if expected {
		return
	}

	detail := "process exited"
	if err != nil {
		detail = err.Error()
	}
	p.transition(StateError, detail)
	s.publishState(p)
	s.pub.Publish(p.projectID, hub.Event{Type: hub.EventError, Data: map[string]any{
		"message": "preview process exited unexpectedly",
		"detail":  detail,
	}})
	s.logger.Error(logging.CategoryPreview, "process_exited", p.projectID, err, map[string]any{"port": p.port})
}

// observeReadiness polls the dev server until it responds or the deadline
// elapses, driving the running -> ready | error transition.
func (s *Supervisor) observeReadiness(p *process) {
	probe := s.cfg.Probe
	if probe == nil {
		probe = s.httpProbe
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.exited:
			return
		case <-ctx.Done():
			if p.compareAndTransition(StateRunning, StateError, "readiness probe timed out") {
				// Error is terminal for this run: the child must die with
				// it, or it would keep the port with no owner.
				s.killAndAwait(p)
				s.publishState(p)
				s.logger.Error(logging.CategoryPreview, "ready_timeout", p.projectID, nil, map[string]any{"port": p.port})
			}
			return
		case <-ticker.C:
			if probe(ctx, p.port) == nil {
				if p.compareAndTransition(StateRunning, StateReady, "") {
					s.publishState(p)
					s.logger.Log(logging.LevelInfo, logging.CategoryPreview, "process_ready", p.projectID, "", map[string]any{"port": p.port})
				}
				return
			}
		}
	}
}

// httpProbe considers the dev server ready once it answers anything at all
// on loopback.
func (s *Supervisor) httpProbe(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, s.cfg.ReadyPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *Supervisor) buildCommand(projectID string, port int) *exec.Cmd {
	argv := make([]string, len(s.cfg.Command))
	for i, arg := range s.cfg.Command {
		argv[i] = strings.ReplaceAll(arg, "{port}", strconv.Itoa(port))
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if s.cfg.WorkspaceRoot != "" {
		cmd.Dir = filepath.Join(s.cfg.WorkspaceRoot, projectID)
	}
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	return cmd
}

func (s *Supervisor) publishState(p *process) {
	s.pub.Publish(p.projectID, statusEvent(p.describe()))
}

func statusEvent(inst Instance) hub.Event {
	data := map[string]any{
		"projectId": inst.ProjectID,
		"state":     string(inst.State),
	}
	if inst.Port != 0 {
		data["port"] = inst.Port
	}
	if inst.Detail != "" {
		data["detail"] = inst.Detail
	}
	return hub.Event{Type: hub.EventPreviewStatus, Data: data}
}

// process is the internal handle for one spawned dev server.
type process struct {
	projectID string
	startedAt time.Time
	exited    chan struct{}

	mu     sync.Mutex
	state  State
	port   int
	pid    int
	detail string
	cmd    *exec.Cmd
}

func (p *process) describe() Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Instance{
		ProjectID: p.projectID,
		Port:      p.port,
		PID:       p.pid,
		State:     p.state,
		Detail:    p.detail,
		StartedAt: p.startedAt,
	}
}

// adoptSpawn records the spawned command and advances starting to running.
// It reports false when the run already left starting, which means a
// concurrent Stop won the race and the child has to be torn down.
func (p *process) adoptSpawn(cmd *exec.Cmd) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	if p.state != StateStarting {
		return false
	}
	p.state = StateRunning
	return true
}

func (p *process) transition(state State, detail string) {
	p.mu.Lock()
	p.state = state
	p.detail = detail
	p.mu.Unlock()
}

func (p *process) compareAndTransition(from, to State, detail string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	p.detail = detail
	return true
}
