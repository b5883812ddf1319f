package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"

	"github.com/p-arndt/snippetd/internal/config"
	"github.com/p-arndt/snippetd/internal/output"
	"github.com/p-arndt/snippetd/internal/staging"
)

// State is the lifecycle position of one snippet's execution.
type State int

const (
	StateBuilding State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Handle is a snapshot of a live execution.
type Handle struct {
	ID          string    `json:"id"`
	ContainerID string    `json:"container_id"`
	Image       string    `json:"image"`
	State       string    `json:"state"`
	Generation  uint64    `json:"generation"`
	StartedAt   time.Time `json:"started_at"`
}

type entry struct {
	id string

	// update serializes restarts of the same execution.
	update sync.Mutex

	// Guarded by Manager.mu.
	state   State
	gen     uint64
	source  string
	pending *string
	handle  *Handle
	staging *staging.Context
	timer   *time.Timer
	cancel  context.CancelFunc
	logs    io.Closer

	// torn is closed once a teardown has released every resource.
	torn chan struct{}
}

// stopWatch disarms the lifetime timer and detaches the current log stream.
func (e *entry) stopWatch() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.logs != nil {
		e.logs.Close()
		e.logs = nil
	}
}

func (e *entry) snapshot() Handle {
	h := *e.handle
	h.State = e.state.String()
	h.Generation = e.gen
	return h
}

// Manager owns the table of live executions. Every transition of an entry
// happens under mu; the slow runtime calls happen outside it.
type Manager struct {
	cfg      *config.Config
	engine   Engine
	stager   *staging.Builder
	capture  Capture
	runState RunState
	logger   *slog.Logger

	lifetime time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	// shuttingDown keeps run flags set for instances stopped by Shutdown.
	shuttingDown atomic.Bool
}

func NewManager(cfg *config.Config, engine Engine, stager *staging.Builder, capture Capture, runState RunState, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		engine:   engine,
		stager:   stager,
		capture:  capture,
		runState: runState,
		logger:   logger,
		lifetime: cfg.Lifetime(),
		entries:  make(map[string]*entry),
	}
}

// Dispatch runs source as snippet id. An unseen id is built and started; a
// running one has its source replaced and its instance restarted. While the
// first build of id is in flight, later sources are queued and the latest
// one is applied once the instance is up.
func (m *Manager) Dispatch(ctx context.Context, id, source string) (*Handle, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{id: id, state: StateBuilding, source: source, torn: make(chan struct{})}
		m.entries[id] = e
		m.mu.Unlock()
		return m.launch(ctx, e)
	}
	if e.state == StateTeardown {
		// the old instance still holds the names derived from id
		torn := e.torn
		m.mu.Unlock()
		select {
		case <-torn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return m.Dispatch(ctx, id, source)
	}
	if e.state == StateBuilding || e.state == StateStarting {
		if source == e.source {
			e.pending = nil
		} else {
			e.pending = &source
		}
		m.mu.Unlock()
		m.logger.Info("update queued behind build", "snippet_id", id)
		return nil, ErrUpdateQueued
	}
	m.mu.Unlock()

	h, err := m.restart(ctx, e, source)
	if errors.Is(err, errGone) {
		return m.Dispatch(ctx, id, source)
	}
	return h, err
}

// Get returns the live execution for id.
func (m *Manager) Get(id string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.handle == nil || e.state == StateTeardown {
		return Handle{}, false
	}
	return e.snapshot(), true
}

// List returns every live execution ordered by id.
func (m *Manager) List() []Handle {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.entries))
	for _, e := range m.entries {
		if e.handle != nil && e.state != StateTeardown {
			handles = append(handles, e.snapshot())
		}
	}
	m.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles
}

func (m *Manager) launch(ctx context.Context, e *entry) (*Handle, error) {
	id := e.id
	name := ResourceName(m.cfg.ImagePrefix, id)
	log := m.logger.With("snippet_id", id, "image", name)

	sc := m.stager.Prepare(SafeID(id), e.source)
	if err := sc.Write(); err != nil {
		m.cleanupStaging(sc, log)
		m.abandon(e)
		return nil, fmt.Errorf("%w: %w", ErrStaging, err)
	}

	log.Info("building image")
	if err := m.build(ctx, sc.Path, name, id); err != nil {
		log.Error("image build failed", "error", err)
		m.cleanupStaging(sc, log)
		m.abandon(e)
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	m.mu.Lock()
	e.state = StateStarting
	m.mu.Unlock()

	containerID, err := m.engine.CreateInstance(ctx, name, name)
	if err != nil {
		log.Error("create instance failed", "error", err)
		m.discard(name, "", sc, log)
		m.abandon(e)
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	if err := m.engine.Start(ctx, containerID); err != nil {
		log.Error("start instance failed", "container", shortID(containerID), "error", err)
		m.discard(name, containerID, sc, log)
		m.abandon(e)
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	logs, err := m.engine.AttachLogs(streamCtx, containerID, time.Time{})
	if err != nil {
		cancel()
		log.Error("attach logs failed", "container", shortID(containerID), "error", err)
		m.discard(name, containerID, sc, log)
		m.abandon(e)
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	done := m.capture.Attach(streamCtx, logs, output.RoleContainerRun, id)

	if err := m.runState.SetRunFlag(ctx, id, true); err != nil {
		log.Warn("mark running", "error", err)
	}

	m.mu.Lock()
	e.gen = 1
	e.state = StateRunning
	e.handle = &Handle{ID: id, ContainerID: containerID, Image: name, StartedAt: time.Now()}
	e.staging = sc
	e.cancel = cancel
	e.logs = logs
	e.timer = m.armTimer(id, e.gen)
	pending := e.pending
	e.pending = nil
	h := e.snapshot()
	m.mu.Unlock()

	go m.supervise(id, 1, done)
	log.Info("execution started", "container", shortID(containerID))

	if pending != nil {
		detached := context.WithoutCancel(ctx)
		go func() {
			if _, err := m.Dispatch(detached, id, *pending); err != nil {
				log.Error("apply queued update", "error", err)
			}
		}()
	}
	return &h, nil
}

// build runs the image build and waits until its progress stream is drained.
func (m *Manager) build(ctx context.Context, contextDir, tag, id string) error {
	stream, err := m.engine.BuildImage(ctx, contextDir, tag)
	if err != nil {
		return err
	}
	defer stream.Close()
	return <-m.capture.Attach(ctx, stream, output.RoleImageBuild, id)
}

// restart pushes source into the running instance of e and restarts it in
// place. A failure after the generation moved tears the execution down.
func (m *Manager) restart(ctx context.Context, e *entry, source string) (*Handle, error) {
	e.update.Lock()
	defer e.update.Unlock()

	m.mu.Lock()
	if m.entries[e.id] != e || e.state == StateTeardown {
		m.mu.Unlock()
		return nil, errGone
	}
	if e.state != StateRunning {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	e.gen++
	gen := e.gen
	e.state = StateRestarting
	e.source = source
	e.stopWatch()
	containerID := e.handle.ContainerID
	m.mu.Unlock()

	log := m.logger.With("snippet_id", e.id, "generation", gen)
	fail := func(err error) (*Handle, error) {
		log.Error("restart failed", "error", err)
		m.teardown(e.id, gen, "restart failed")
		return nil, err
	}

	path, cleanup, err := m.stager.WriteSource(SafeID(e.id), source)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrStaging, err))
	}
	defer cleanup()

	restartedAt := time.Now()
	if err := m.engine.PushFile(ctx, containerID, path, m.cfg.Staging.AppRoot); err != nil {
		return fail(fmt.Errorf("push source: %w", err))
	}
	if err := m.engine.Restart(ctx, containerID); err != nil {
		return fail(fmt.Errorf("restart instance: %w", err))
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	logs, err := m.engine.AttachLogs(streamCtx, containerID, restartedAt)
	if err != nil {
		cancel()
		return fail(fmt.Errorf("%w: %w", ErrStream, err))
	}
	done := m.capture.Attach(streamCtx, logs, output.RoleContainerRun, e.id)

	m.mu.Lock()
	if m.entries[e.id] != e || e.gen != gen {
		m.mu.Unlock()
		cancel()
		logs.Close()
		return nil, ErrNotRunning
	}
	e.state = StateRunning
	e.handle.StartedAt = time.Now()
	e.cancel = cancel
	e.logs = logs
	e.timer = m.armTimer(e.id, gen)
	h := e.snapshot()
	m.mu.Unlock()

	go m.supervise(e.id, gen, done)
	log.Info("execution restarted")
	return &h, nil
}

func (m *Manager) armTimer(id string, gen uint64) *time.Timer {
	return time.AfterFunc(m.lifetime, func() { m.expire(id, gen) })
}

// supervise tears the generation down once its log stream ends.
func (m *Manager) supervise(id string, gen uint64, done <-chan error) {
	reason := "finished"
	if err := <-done; err != nil {
		reason = "stream error"
		m.logger.Warn("log stream ended", "snippet_id", id, "generation", gen,
			"error", fmt.Errorf("%w: %w", ErrStream, err))
	}
	m.teardown(id, gen, reason)
}

// expire handles the lifetime timer of one generation. Timers of superseded
// generations do nothing. The execution is torn down unless the run flag
// says it was already stopped; an unreadable flag counts as running.
func (m *Manager) expire(id string, gen uint64) {
	m.mu.Lock()
	e, ok := m.entries[id]
	current := ok && e.gen == gen && e.state == StateRunning
	m.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TeardownTimeout())
	defer cancel()

	running, err := m.runState.IsRunning(ctx, id)
	if err != nil {
		m.logger.Warn("timeout: read run flag, forcing teardown", "snippet_id", id, "error", err)
		running = true
	}
	if !running {
		m.logger.Debug("timeout: snippet already inactive", "snippet_id", id)
		return
	}

	m.logger.Info("execution timed out", "snippet_id", id, "lifetime", m.lifetime)
	m.teardown(id, gen, "timeout")
}

// teardown releases everything held by generation gen of id. It runs at most
// once per execution: the first caller moves the entry to StateTeardown and
// later callers find nothing to do. The entry leaves the table only after
// cleanup, so a new dispatch of id cannot reuse its names early. Each cleanup
// step is attempted even if earlier ones fail.
func (m *Manager) teardown(id string, gen uint64, reason string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.gen != gen || e.handle == nil ||
		(e.state != StateRunning && e.state != StateRestarting) {
		m.mu.Unlock()
		return false
	}
	e.state = StateTeardown
	e.stopWatch()
	m.capture.Release(id)
	h := *e.handle
	sc := e.staging
	m.mu.Unlock()

	log := m.logger.With("snippet_id", id, "generation", gen, "reason", reason)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TeardownTimeout())
	defer cancel()

	if err := m.engine.DeleteInstance(ctx, h.ContainerID); err != nil {
		log.Error("teardown: delete instance", "container", shortID(h.ContainerID), "error", err)
	}
	if err := m.engine.RemoveImage(ctx, h.Image); err != nil {
		log.Error("teardown: remove image", "image", h.Image, "error", err)
	}
	if sc != nil {
		if err := sc.Remove(); err != nil {
			log.Error("teardown: remove staging", "path", sc.Path, "error", err)
		}
	}
	if m.shuttingDown.Load() {
		log.Debug("teardown: run flag kept for next start")
	} else if err := m.runState.SetRunFlag(ctx, id, false); err != nil {
		log.Error("teardown: mark stopped", "error", err)
	}

	m.mu.Lock()
	if m.entries[id] == e {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	close(e.torn)

	log.Info("execution torn down", "uptime", units.HumanDuration(time.Since(h.StartedAt)))
	return true
}

// abandon drops an entry that never reached the running state. Queued
// updates for it are discarded.
func (m *Manager) abandon(e *entry) {
	m.mu.Lock()
	if m.entries[e.id] == e {
		delete(m.entries, e.id)
	}
	dropped := e.pending != nil
	m.mu.Unlock()
	if dropped {
		m.logger.Warn("queued update dropped", "snippet_id", e.id)
	}
}

// discard removes what a failed start left behind.
func (m *Manager) discard(image, containerID string, sc *staging.Context, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TeardownTimeout())
	defer cancel()

	if containerID != "" {
		if err := m.engine.DeleteInstance(ctx, containerID); err != nil {
			log.Error("start cleanup: delete instance", "container", shortID(containerID), "error", err)
		}
	}
	if err := m.engine.RemoveImage(ctx, image); err != nil {
		log.Error("start cleanup: remove image", "error", err)
	}
	m.cleanupStaging(sc, log)
}

func (m *Manager) cleanupStaging(sc *staging.Context, log *slog.Logger) {
	if err := sc.Remove(); err != nil {
		log.Error("remove staging", "path", sc.Path, "error", err)
	}
}

// Shutdown force-stops every live instance and returns how many it signalled.
// It does not wait: each stop ends the instance's log stream, and the
// regular teardown path releases the rest. Run flags stay set so the change
// feed picks the snippets up again after a restart.
func (m *Manager) Shutdown(ctx context.Context) int {
	m.shuttingDown.Store(true)
	handles := m.List()
	for _, h := range handles {
		if err := m.engine.Stop(ctx, h.ContainerID); err != nil {
			m.logger.Error("shutdown: stop instance", "snippet_id", h.ID,
				"container", shortID(h.ContainerID), "error", err)
			continue
		}
		m.logger.Info("shutdown: stopped instance", "snippet_id", h.ID, "container", shortID(h.ContainerID))
	}
	return len(handles)
}
