// Package supervisor runs one watch loop per active session, probing the remote
// job and restarting it when it dies.
package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"remote-job-supervisor/internal/controller"
	"remote-job-supervisor/internal/events"
	eventdomain "remote-job-supervisor/internal/events/domain"
	"remote-job-supervisor/internal/notify"
	sessiondomain "remote-job-supervisor/internal/session/domain"
	statsdomain "remote-job-supervisor/internal/stats/domain"
)

const (
	defaultPollInterval       = 5 * time.Minute
	defaultSampleProbability  = 0.2
	defaultMaxRestartAttempts = 5

	// maxBackoffFactor caps the transport-failure backoff at a multiple of the
	// poll interval.
	maxBackoffFactor = 8

	// registryTimeout bounds registry writes made outside a request context.
	registryTimeout = 10 * time.Second
)

// ErrSessionTerminal is returned when Start is called on a stopped or failed session.
var ErrSessionTerminal = errors.New("supervisor: session already terminal")

// Controller drives the remote job lifecycle. *controller.Controller implements it.
type Controller interface {
	ProvisionAndStart(ctx context.Context, resourceID, jobParameters string) error
	Stop(ctx context.Context, resourceID string) error
	Probe(ctx context.Context, resourceID string) (*controller.ProbeResult, error)
	SampleStats(ctx context.Context, resourceID string) (string, error)
}

// SessionRegistry is the subset of the session service the supervisor needs.
type SessionRegistry interface {
	Get(ctx context.Context, id string) (*sessiondomain.Session, error)
	Transition(ctx context.Context, id string, newStatus sessiondomain.Status) (*sessiondomain.Session, error)
	FindActive(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// StatsSink stores sampled job metrics. May be nil to disable sampling.
type StatsSink interface {
	Insert(ctx context.Context, s *statsdomain.Sample) error
}

// Options tunes the watch loops. Zero values fall back to defaults.
type Options struct {
	PollInterval       time.Duration
	SampleProbability  float64
	MaxRestartAttempts int

	// Notifier receives operator notices from the loops: probe transport
	// failures, restart attempts and outcomes, terminal failures. May be nil.
	Notifier notify.Notifier
	// NotifyDestination is the destination id for those notices.
	NotifyDestination string
}

// Supervisor owns the set of per-session watch loops. All registry state
// transitions for supervised sessions flow through it so a stop request and a
// restart decision cannot race.
type Supervisor struct {
	ctrl       Controller
	sessions   SessionRegistry
	stats      StatsSink
	emitter    events.Emitter
	notifier   notify.Notifier
	notifyDest string

	pollInterval       time.Duration
	sampleProbability  float64
	maxRestartAttempts int

	mu    sync.Mutex
	loops map[string]*loopHandle
	wg    sync.WaitGroup

	nowF  func() time.Time
	randF func() float64
}

// loopHandle identifies one watch goroutine. The map slot for a session may be
// taken over by a replacement loop while the old goroutine is still draining;
// the handle lets each goroutine unregister only itself.
type loopHandle struct {
	cancel context.CancelFunc
}

// New returns a supervisor. stats and emitter may be nil.
func New(ctrl Controller, sessions SessionRegistry, stats StatsSink, emitter events.Emitter, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SampleProbability <= 0 {
		opts.SampleProbability = defaultSampleProbability
	}
	if opts.MaxRestartAttempts <= 0 {
		opts.MaxRestartAttempts = defaultMaxRestartAttempts
	}
	return &Supervisor{
		ctrl:               ctrl,
		sessions:           sessions,
		stats:              stats,
		emitter:            emitter,
		notifier:           opts.Notifier,
		notifyDest:         opts.NotifyDestination,
		pollInterval:       opts.PollInterval,
		sampleProbability:  opts.SampleProbability,
		maxRestartAttempts: opts.MaxRestartAttempts,
		loops:              make(map[string]*loopHandle),
		nowF:               func() time.Time { return time.Now().UTC() },
		randF:              defaultRand,
	}
}

// Start provisions the remote job for a session in setup state, marks it
// running, and launches its watch loop. For a session already running (e.g.
// after Rehydrate) it only ensures the loop exists.
func (s *Supervisor) Start(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return ErrSessionTerminal
	}
	if sess.Status == sessiondomain.StatusSetup {
		if err := s.ctrl.ProvisionAndStart(ctx, sess.ResourceID, sess.JobParameters); err != nil {
			if _, terr := s.sessions.Transition(ctx, sess.ID, sessiondomain.StatusFailed); terr != nil {
				log.Printf("supervisor: session %s: mark failed after provision error: %v", sess.ID, terr)
			}
			s.emit(eventdomain.TypeSessionFailed, sess, err.Error())
			return err
		}
		sess, err = s.sessions.Transition(ctx, sess.ID, sessiondomain.StatusRunning)
		if err != nil {
			return err
		}
		s.emit(eventdomain.TypeSessionStarted, sess, "")
	}
	s.watch(sess)
	return nil
}

// Stop cancels the session's watch loop, terminates the remote job, and marks
// the session stopped. Stopping an already terminal session is a no-op; no
// second remote stop is issued. The loop is cancelled before the remote stop
// so an in-flight restart decision cannot resurrect the job.
func (s *Supervisor) Stop(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}
	s.cancelLoop(sessionID)
	if err := s.ctrl.Stop(ctx, sess.ResourceID); err != nil {
		// Remote state unknown; resume supervision and surface the error.
		if sess.Status == sessiondomain.StatusRunning {
			s.watch(sess)
		}
		return err
	}
	if _, err := s.sessions.Transition(ctx, sessionID, sessiondomain.StatusStopped); err != nil {
		return err
	}
	s.emit(eventdomain.TypeSessionStopped, sess, "")
	return nil
}

// Rehydrate rebuilds the loop set from the registry after a restart. Running
// sessions get a watch loop; sessions stuck in setup had their provisioning
// interrupted and are marked failed. Returns the number of resumed loops.
func (s *Supervisor) Rehydrate(ctx context.Context) (int, error) {
	active, err := s.sessions.FindActive(ctx, "")
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, sess := range active {
		switch sess.Status {
		case sessiondomain.StatusRunning:
			s.watch(sess)
			resumed++
		case sessiondomain.StatusSetup:
			if _, err := s.sessions.Transition(ctx, sess.ID, sessiondomain.StatusFailed); err != nil {
				log.Printf("supervisor: rehydrate: mark interrupted session %s failed: %v", sess.ID, err)
				continue
			}
			s.emit(eventdomain.TypeSessionFailed, sess, "provisioning interrupted by supervisor restart")
		}
	}
	return resumed, nil
}

// Watching reports whether a watch loop exists for the session.
func (s *Supervisor) Watching(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[sessionID]
	return ok
}

// Shutdown cancels every watch loop and waits for them to exit. Sessions keep
// their registry state; Rehydrate resumes them on the next boot.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for id, h := range s.loops {
		h.cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// watch launches the session's loop if one is not already registered.
func (s *Supervisor) watch(sess *sessiondomain.Session) {
	loopCtx, cancel := context.WithCancel(context.Background())
	h := &loopHandle{cancel: cancel}
	s.mu.Lock()
	if _, exists := s.loops[sess.ID]; exists {
		s.mu.Unlock()
		cancel()
		return
	}
	s.loops[sess.ID] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(loopCtx, sess, h)
}

// cancelLoop cancels and unregisters whichever loop currently owns the slot.
func (s *Supervisor) cancelLoop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.loops[sessionID]; ok {
		h.cancel()
		delete(s.loops, sessionID)
	}
}

// removeLoop unregisters a loop's own handle. If the slot now holds a
// replacement loop (registered after a failed Stop re-watched the session),
// the exiting goroutine must leave it alone.
func (s *Supervisor) removeLoop(sessionID string, h *loopHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.loops[sessionID]; ok && cur == h {
		cur.cancel()
		delete(s.loops, sessionID)
	}
}

// notify sends an operator notice over the notification channel. Best-effort;
// no-op when no notifier is configured.
func (s *Supervisor) notify(text string) {
	notify.SendAsync(s.notifier, s.notifyDest, text)
}

func (s *Supervisor) emit(eventType eventdomain.Type, sess *sessiondomain.Session, detail string) {
	events.EmitAsync(s.emitter, &eventdomain.Event{
		Type:       eventType,
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		ResourceID: sess.ResourceID,
		Detail:     detail,
		CreatedAt:  s.nowF(),
	})
}
