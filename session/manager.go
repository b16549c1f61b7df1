// ABOUTME: Preview session state machine: drives creating -> installing -> booting -> running | error.
// ABOUTME: Setup is asynchronous past materialization; every failure path lands in error, never stuck.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/runner"
	"github.com/2389-research/previewd/workspace"
)

// Setup result statuses beyond the session lifecycle states.
const (
	SetupAlreadyRunning = "already_running"
	SetupStatic         = "static"
)

var (
	// ErrGenerationIncomplete gates preview setup on generation completion.
	ErrGenerationIncomplete = errors.New("generation is not complete")
	// ErrPortExhausted means no free port exists in the reserved range.
	// Transient across attempts: it clears as other sessions stop.
	ErrPortExhausted = errors.New("no free port in configured range")
)

// GenerationSource is the slice of the generation store the orchestrator
// consumes: the file set and the output family/status gate.
type GenerationSource interface {
	GetGeneration(id string) (*gen.Generation, error)
	FilesForGeneration(id string) ([]gen.GenerationFile, error)
}

// Config holds the orchestration knobs for a Manager.
type Config struct {
	PortRangeMin  int
	PortRangeMax  int
	IdleTimeout   time.Duration
	PublicBaseURL string
}

// Manager orchestrates preview sessions: one per setup request, at most one
// running per generation.
type Manager struct {
	store        *Store
	gens         GenerationSource
	materializer *workspace.Materializer
	installer    *workspace.Installer
	supervisor   runner.Supervisor
	cfg          Config

	// setupMu serializes the synchronous phase of SetupPreview so two
	// concurrent calls for one generation cannot both create a session or
	// re-materialize a workspace under an in-flight install.
	setupMu  sync.Mutex
	inflight map[string]*PreviewSession

	// claimMu guards the port claims map; the port probe itself never runs
	// under a lock.
	claimMu sync.Mutex
	claimed map[int]bool

	wg sync.WaitGroup
}

// NewManager wires the orchestration dependencies together.
func NewManager(store *Store, gens GenerationSource, mat *workspace.Materializer,
	inst *workspace.Installer, sup runner.Supervisor, cfg Config) *Manager {
	return &Manager{
		store:        store,
		gens:         gens,
		materializer: mat,
		installer:    inst,
		supervisor:   sup,
		cfg:          cfg,
		inflight:     make(map[string]*PreviewSession),
		claimed:      make(map[int]bool),
	}
}

// SetupResult is what a setup call reports back: the session as it stood when
// the call returned, plus a result status. For server-family sessions the
// pipeline continues in the background and callers poll Status.
type SetupResult struct {
	Status  string          `json:"status"`
	Session *PreviewSession `json:"session"`
	URL     string          `json:"url,omitempty"`
}

// SetupPreview makes a generation's preview live. If a fresh running session
// already exists it is touched and returned as-is; a running-but-idle session
// is stopped and superseded. Setup-path failures are captured into the
// session record, never returned as errors -- an error return here means the
// request itself was invalid (unknown or incomplete generation).
func (m *Manager) SetupPreview(ctx context.Context, generationID, userID string) (*SetupResult, error) {
	g, err := m.gens.GetGeneration(generationID)
	if err != nil {
		return nil, err
	}
	if g.Status != gen.StatusComplete {
		return nil, fmt.Errorf("generation %s: %w", generationID, ErrGenerationIncomplete)
	}

	m.setupMu.Lock()
	defer m.setupMu.Unlock()

	// A setup pipeline already in flight for this generation owns the
	// workspace and the eventual port; hand its session back instead of
	// racing it.
	if cur, ok := m.inflight[generationID]; ok {
		if touchErr := m.store.Touch(cur.ID); touchErr != nil {
			log.Printf("component=session action=touch_failed session=%s err=%v", cur.ID, touchErr)
		}
		return &SetupResult{Status: SetupAlreadyRunning, Session: cur, URL: m.PreviewURL(generationID)}, nil
	}

	if existing, err := m.store.RunningByGeneration(generationID); err == nil {
		if existing.IdleFor(time.Now()) < m.cfg.IdleTimeout {
			if touchErr := m.store.Touch(existing.ID); touchErr != nil {
				log.Printf("component=session action=touch_failed session=%s err=%v", existing.ID, touchErr)
			}
			return &SetupResult{Status: SetupAlreadyRunning, Session: existing, URL: m.PreviewURL(generationID)}, nil
		}
		// Timed out: supersede. The old process must always be stopped so
		// its port is not leaked to an abandoned session.
		log.Printf("component=session action=supersede generation=%s old_session=%s", generationID, existing.ID)
		if stopErr := m.StopPreview(existing.ID); stopErr != nil {
			log.Printf("component=session action=supersede_stop_failed session=%s err=%v", existing.ID, stopErr)
		}
	}

	sess, err := m.store.Create(generationID, userID, g.OutputFamily)
	if err != nil {
		return nil, err
	}

	files, err := m.gens.FilesForGeneration(generationID)
	if err != nil {
		return m.fail(sess, fmt.Sprintf("loading generation files: %v", err)), nil
	}

	wsPath, err := m.materializer.Materialize(generationID, files)
	if err != nil {
		return m.fail(sess, fmt.Sprintf("materializing workspace: %v", err)), nil
	}
	if err := m.store.SetWorkspace(sess.ID, wsPath); err != nil {
		return m.fail(sess, fmt.Sprintf("recording workspace: %v", err)), nil
	}
	sess.WorkspacePath = wsPath

	// Static generations short-circuit: no install, no boot, no port.
	if g.OutputFamily == gen.FamilyStatic {
		if err := m.store.SetStatus(sess.ID, StatusRunning); err != nil {
			return m.fail(sess, fmt.Sprintf("recording status: %v", err)), nil
		}
		sess.Status = StatusRunning
		log.Printf("component=session action=static_running generation=%s session=%s", generationID, sess.ID)
		return &SetupResult{Status: SetupStatic, Session: sess, URL: m.PreviewURL(generationID)}, nil
	}

	// Server family: the long-blocking install+boot work runs off the
	// request path. The record moves to installing before we return so
	// pollers never observe a stuck "creating".
	if err := m.store.SetStatus(sess.ID, StatusInstalling); err != nil {
		return m.fail(sess, fmt.Sprintf("recording status: %v", err)), nil
	}
	sess.Status = StatusInstalling
	m.inflight[generationID] = sess

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.clearInflight(generationID)
		m.runServerSetup(sess.ID, generationID, wsPath)
	}()

	return &SetupResult{Status: string(StatusInstalling), Session: sess, URL: m.PreviewURL(generationID)}, nil
}

// runServerSetup is the background half of server-family setup: install,
// allocate a port, boot the dev server, and land in running or error.
func (m *Manager) runServerSetup(sessionID, generationID, wsPath string) {
	ctx := context.Background()

	res, err := m.installer.Install(ctx, wsPath)
	if err != nil {
		m.failAsync(sessionID, fmt.Sprintf("install failed: %v", err))
		return
	}
	if !res.Success {
		m.failAsync(sessionID, res.ErrorDetail)
		return
	}

	if err := m.store.SetStatus(sessionID, StatusBooting); err != nil {
		m.failAsync(sessionID, fmt.Sprintf("recording status: %v", err))
		return
	}

	port, err := m.allocatePort()
	if err != nil {
		m.failAsync(sessionID, err.Error())
		return
	}
	defer m.releaseClaim(port)

	if err := m.store.SetPort(sessionID, port); err != nil {
		m.failAsync(sessionID, fmt.Sprintf("recording port: %v", err))
		return
	}

	pid, err := m.supervisor.Start(ctx, wsPath, gen.FamilyServer, port)
	if err != nil {
		// Includes the lost probe-then-bind race; retryable via fresh setup.
		m.failAsync(sessionID, fmt.Sprintf("dev server failed to start on port %d: %v", port, err))
		return
	}

	// A newer session may have been set up while this one booted; the older
	// pipeline stops its own process rather than leaking it.
	if latest, lerr := m.store.LatestByGeneration(generationID); lerr == nil && latest.ID != sessionID {
		log.Printf("component=session action=superseded session=%s newer=%s", sessionID, latest.ID)
		_ = m.supervisor.StopByPort(port)
		m.failAsync(sessionID, "superseded by a newer session")
		return
	}

	if err := m.store.SetStatus(sessionID, StatusRunning); err != nil {
		_ = m.supervisor.StopByPort(port)
		m.failAsync(sessionID, fmt.Sprintf("recording status: %v", err))
		return
	}
	log.Printf("component=session action=running generation=%s session=%s port=%d pid=%d",
		generationID, sessionID, port, pid)
}

func (m *Manager) clearInflight(generationID string) {
	m.setupMu.Lock()
	delete(m.inflight, generationID)
	m.setupMu.Unlock()
}

// allocatePort claims a free port in the configured range, excluding ports
// recorded by running sessions and ports claimed by in-flight setups. The
// candidate is claimed under claimMu before it is probed, so two concurrent
// setups can never select the same port; the probe itself runs without the
// lock held.
func (m *Manager) allocatePort() (int, error) {
	recorded, err := m.store.RunningPorts()
	if err != nil {
		return 0, fmt.Errorf("querying claimed ports: %w", err)
	}

	probed := make(map[int]bool)
	for {
		m.claimMu.Lock()
		candidate := 0
		for p := m.cfg.PortRangeMin; p <= m.cfg.PortRangeMax; p++ {
			if recorded[p] || m.claimed[p] || probed[p] {
				continue
			}
			candidate = p
			break
		}
		if candidate == 0 {
			m.claimMu.Unlock()
			return 0, fmt.Errorf("%w (%d-%d)", ErrPortExhausted, m.cfg.PortRangeMin, m.cfg.PortRangeMax)
		}
		m.claimed[candidate] = true
		m.claimMu.Unlock()

		if !runner.PortInUse(candidate) {
			return candidate, nil
		}
		// Something outside this process is listening; give the claim back
		// and keep scanning.
		m.releaseClaim(candidate)
		probed[candidate] = true
	}
}

func (m *Manager) releaseClaim(port int) {
	m.claimMu.Lock()
	delete(m.claimed, port)
	m.claimMu.Unlock()
}

// fail records a synchronous setup failure on the session and returns the
// error-shaped result. Callers get a well-formed status object, not an error.
func (m *Manager) fail(sess *PreviewSession, message string) *SetupResult {
	log.Printf("component=session action=setup_failed session=%s generation=%s err=%q",
		sess.ID, sess.GenerationID, message)
	if err := m.store.SetError(sess.ID, message); err != nil {
		log.Printf("component=session action=record_error_failed session=%s err=%v", sess.ID, err)
	}
	sess.Status = StatusError
	sess.ErrorMessage = message
	return &SetupResult{Status: string(StatusError), Session: sess}
}

func (m *Manager) failAsync(sessionID, message string) {
	log.Printf("component=session action=setup_failed session=%s err=%q", sessionID, message)
	if err := m.store.SetError(sessionID, message); err != nil {
		log.Printf("component=session action=record_error_failed session=%s err=%v", sessionID, err)
	}
}

// StopPreview stops a session's dev server and marks it stopped. A session
// that is not running is a no-op success, so stop is idempotent and safe to
// race with a concurrent setup for the same generation.
func (m *Manager) StopPreview(sessionID string) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.Running() {
		return nil
	}

	if sess.Port > 0 {
		if err := m.supervisor.StopByPort(sess.Port); err != nil {
			// The process may have died externally; the record is still
			// moved to stopped so the port is released for reallocation.
			log.Printf("component=session action=stop_by_port_failed session=%s port=%d err=%v",
				sessionID, sess.Port, err)
		}
	}
	if err := m.store.MarkStopped(sessionID); err != nil {
		return err
	}
	log.Printf("component=session action=stopped session=%s generation=%s", sessionID, sess.GenerationID)
	return nil
}

// StopByGeneration stops the running session for a generation, if any.
func (m *Manager) StopByGeneration(generationID string) error {
	sess, err := m.store.RunningByGeneration(generationID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.StopPreview(sess.ID)
}

// StopAll stops every running session. Used on daemon shutdown so no dev
// server outlives the orchestrator.
func (m *Manager) StopAll() {
	sessions, err := m.store.Running()
	if err != nil {
		log.Printf("component=session action=stop_all_query_failed err=%v", err)
		return
	}
	for _, sess := range sessions {
		if err := m.StopPreview(sess.ID); err != nil {
			log.Printf("component=session action=stop_all_failed session=%s err=%v", sess.ID, err)
		}
	}
}

// Status returns the latest session for a generation, or ErrNotFound when no
// session has ever been set up. Activity touching is deliberately not done
// here; callers that count as activity call Touch themselves.
func (m *Manager) Status(generationID string) (*PreviewSession, error) {
	return m.store.LatestByGeneration(generationID)
}

// Touch marks preview activity on a session.
func (m *Manager) Touch(sessionID string) error {
	return m.store.Touch(sessionID)
}

// RunningByGeneration exposes the running-session lookup for the proxy path.
func (m *Manager) RunningByGeneration(generationID string) (*PreviewSession, error) {
	return m.store.RunningByGeneration(generationID)
}

// SweepIdle stops every running session idle longer than timeout and returns
// how many were stopped. Per-session failures are logged and do not abort
// the sweep.
func (m *Manager) SweepIdle(timeout time.Duration) int {
	sessions, err := m.store.Running()
	if err != nil {
		log.Printf("component=reaper action=query_failed err=%v", err)
		return 0
	}

	now := time.Now()
	stopped := 0
	for _, sess := range sessions {
		if sess.IdleFor(now) < timeout {
			continue
		}
		if err := m.StopPreview(sess.ID); err != nil {
			log.Printf("component=reaper action=stop_failed session=%s err=%v", sess.ID, err)
			continue
		}
		stopped++
	}
	return stopped
}

// PreviewURL constructs the public URL a browser uses to reach a
// generation's preview through the proxy.
func (m *Manager) PreviewURL(generationID string) string {
	return fmt.Sprintf("%s/preview/%s/", m.cfg.PublicBaseURL, generationID)
}

// MountPath is the path prefix the proxy serves a generation under; the
// rewriter prefixes root-relative asset URLs with it.
func (m *Manager) MountPath(generationID string) string {
	return "/preview/" + generationID
}

// Wait blocks until all in-flight background setups finish. Test helper and
// shutdown aid.
func (m *Manager) Wait() {
	m.wg.Wait()
}
