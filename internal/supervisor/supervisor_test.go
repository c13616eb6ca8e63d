package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remote-job-supervisor/internal/controller"
	"remote-job-supervisor/internal/executor"
	sessiondomain "remote-job-supervisor/internal/session/domain"
	statsdomain "remote-job-supervisor/internal/stats/domain"
)

const testPoll = 5 * time.Millisecond

type probeStep struct {
	res *controller.ProbeResult
	err error
}

// fakeController scripts probe outcomes in order; the last step repeats.
// probeDelay makes each probe block for that long, ignoring cancellation.
type fakeController struct {
	mu             sync.Mutex
	probes         []probeStep
	probeCalls     int
	probeDelay     time.Duration
	provisionCalls int
	provisionErr   error
	stopCalls      int
	stopErr        error
	statsOutput    string
}

func (f *fakeController) ProvisionAndStart(ctx context.Context, resourceID, jobParameters string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisionCalls++
	return f.provisionErr
}

func (f *fakeController) Stop(ctx context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeController) Probe(ctx context.Context, resourceID string) (*controller.ProbeResult, error) {
	f.mu.Lock()
	idx := f.probeCalls
	f.probeCalls++
	delay := f.probeDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.probes) == 0 {
		return &controller.ProbeResult{Alive: true}, nil
	}
	if idx >= len(f.probes) {
		idx = len(f.probes) - 1
	}
	step := f.probes[idx]
	return step.res, step.err
}

func (f *fakeController) SampleStats(ctx context.Context, resourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsOutput, nil
}

func (f *fakeController) counts() (probes, provisions, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls, f.provisionCalls, f.stopCalls
}

// memRegistry mirrors the session service transition rules in memory.
type memRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessiondomain.Session
}

func newMemRegistry(sessions ...*sessiondomain.Session) *memRegistry {
	m := &memRegistry{sessions: make(map[string]*sessiondomain.Session)}
	for _, s := range sessions {
		clone := *s
		m.sessions[s.ID] = &clone
	}
	return m
}

func (m *memRegistry) Get(ctx context.Context, id string) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	clone := *s
	return &clone, nil
}

func (m *memRegistry) Transition(ctx context.Context, id string, newStatus sessiondomain.Status) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	if !sessiondomain.ValidTransition(s.Status, newStatus) {
		return nil, errors.New("invalid transition")
	}
	s.Status = newStatus
	clone := *s
	return &clone, nil
}

func (m *memRegistry) FindActive(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range m.sessions {
		if s.Status.Terminal() {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memRegistry) status(id string) sessiondomain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Status
}

type memSink struct {
	mu      sync.Mutex
	samples []*statsdomain.Sample
}

func (m *memSink) Insert(ctx context.Context, s *statsdomain.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// recordingNotifier captures operator notices sent by the loops.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Send(ctx context.Context, destination, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func (n *recordingNotifier) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func testSession(status sessiondomain.Status) *sessiondomain.Session {
	return &sessiondomain.Session{
		ID:            "sess-1",
		UserID:        "user-1",
		ResourceID:    "box-1",
		JobParameters: `{"threads":2}`,
		Status:        status,
		StartTime:     time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStart_ProvisionsSetupSession(t *testing.T) {
	ctrl := &fakeController{}
	reg := newMemRegistry(testSession(sessiondomain.StatusSetup))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, provisions, _ := ctrl.counts(); provisions != 1 {
		t.Errorf("provisions = %d, want 1", provisions)
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusRunning {
		t.Errorf("status = %s, want running", got)
	}
	if !sup.Watching("sess-1") {
		t.Error("no watch loop registered")
	}
}

func TestStart_ProvisionFailureMarksFailed(t *testing.T) {
	ctrl := &fakeController{provisionErr: executor.ErrTransport}
	reg := newMemRegistry(testSession(sessiondomain.StatusSetup))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	err := sup.Start(context.Background(), "sess-1")
	if !errors.Is(err, executor.ErrTransport) {
		t.Fatalf("Start err = %v, want ErrTransport", err)
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if sup.Watching("sess-1") {
		t.Error("failed session must not be watched")
	}
}

func TestStart_TerminalSession(t *testing.T) {
	ctrl := &fakeController{}
	reg := newMemRegistry(testSession(sessiondomain.StatusStopped))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("Start err = %v, want ErrSessionTerminal", err)
	}
}

func TestLoop_RestartsDeadJobExactlyOnce(t *testing.T) {
	ctrl := &fakeController{probes: []probeStep{
		{res: &controller.ProbeResult{Alive: true}},
		{res: &controller.ProbeResult{Alive: false}},
		{res: &controller.ProbeResult{Alive: true}},
	}}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		probes, _, _ := ctrl.counts()
		return probes >= 5
	}, "loop did not tick")
	sup.Shutdown()

	_, provisions, _ := ctrl.counts()
	if provisions != 1 {
		t.Errorf("restarts = %d, want exactly 1", provisions)
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusRunning {
		t.Errorf("status = %s, want running", got)
	}
}

func TestLoop_RestartBudgetExhausted(t *testing.T) {
	ctrl := &fakeController{probes: []probeStep{
		{res: &controller.ProbeResult{Alive: false}},
	}}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll, MaxRestartAttempts: 2})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return reg.status("sess-1") == sessiondomain.StatusFailed
	}, "session never marked failed")
	waitFor(t, 2*time.Second, func() bool {
		return !sup.Watching("sess-1")
	}, "loop did not exit after terminal failure")

	_, provisions, _ := ctrl.counts()
	if provisions != 2 {
		t.Errorf("restart attempts = %d, want 2", provisions)
	}
}

func TestLoop_TransportFailureDoesNotRestart(t *testing.T) {
	ctrl := &fakeController{probes: []probeStep{
		{err: executor.ErrTransport},
	}}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		probes, _, _ := ctrl.counts()
		return probes >= 2
	}, "loop did not tick")
	sup.Shutdown()

	_, provisions, _ := ctrl.counts()
	if provisions != 0 {
		t.Errorf("restarts = %d, want 0 on transport failure", provisions)
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusRunning {
		t.Errorf("status = %s, want running", got)
	}
}

func TestStop(t *testing.T) {
	ctrl := &fakeController{}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusStopped {
		t.Errorf("status = %s, want stopped", got)
	}
	if sup.Watching("sess-1") {
		t.Error("loop still registered after Stop")
	}

	// Stopping again is a no-op; the remote stop must not be re-issued.
	if err := sup.Stop(context.Background(), "sess-1"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, _, stops := ctrl.counts(); stops != 1 {
		t.Errorf("remote stops = %d, want 1", stops)
	}
}

func TestStop_TransportFailureKeepsSupervising(t *testing.T) {
	ctrl := &fakeController{stopErr: executor.ErrTransport}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(context.Background(), "sess-1"); !errors.Is(err, executor.ErrTransport) {
		t.Fatalf("Stop err = %v, want ErrTransport", err)
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusRunning {
		t.Errorf("status = %s, want running when remote state is unknown", got)
	}
	if !sup.Watching("sess-1") {
		t.Error("supervision must resume after a failed remote stop")
	}
}

func TestLoop_TransportFailureNotifies(t *testing.T) {
	ctrl := &fakeController{probes: []probeStep{
		{err: executor.ErrTransport},
	}}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	notices := &recordingNotifier{}
	sup := New(ctrl, reg, nil, nil, Options{
		PollInterval:      testPoll,
		Notifier:          notices,
		NotifyDestination: "ops",
	})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return notices.count() >= 3
	}, "no notices sent for repeated probe transport failures")
	if !notices.contains("probe failed") {
		t.Error("notice does not mention the probe failure")
	}
}

func TestLoop_RestartNotifiesOutcome(t *testing.T) {
	ctrl := &fakeController{probes: []probeStep{
		{res: &controller.ProbeResult{Alive: false}},
		{res: &controller.ProbeResult{Alive: true}},
	}}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	notices := &recordingNotifier{}
	sup := New(ctrl, reg, nil, nil, Options{
		PollInterval:      testPoll,
		Notifier:          notices,
		NotifyDestination: "ops",
	})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return notices.contains("job restarted")
	}, "no notice for the restart outcome")
	if !notices.contains("restart attempt 1/") {
		t.Error("no notice for the restart attempt")
	}
}

func TestLoop_RestartFailureNotifies(t *testing.T) {
	ctrl := &fakeController{
		probes:       []probeStep{{res: &controller.ProbeResult{Alive: false}}},
		provisionErr: executor.ErrTransport,
	}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	notices := &recordingNotifier{}
	sup := New(ctrl, reg, nil, nil, Options{
		PollInterval:       testPoll,
		MaxRestartAttempts: 2,
		Notifier:           notices,
		NotifyDestination:  "ops",
	})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return notices.contains("restart failed")
	}, "no notice for the failed restart")
	waitFor(t, 2*time.Second, func() bool {
		return notices.contains("marked failed")
	}, "no notice for the terminal failure")
}

func TestStop_FailedRemoteStopKeepsReplacementLoop(t *testing.T) {
	ctrl := &fakeController{
		stopErr:    executor.ErrTransport,
		probeDelay: 75 * time.Millisecond,
	}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Wait for a probe to be in flight; it keeps draining after cancellation.
	waitFor(t, 2*time.Second, func() bool {
		probes, _, _ := ctrl.counts()
		return probes >= 1
	}, "no probe started")

	if err := sup.Stop(context.Background(), "sess-1"); !errors.Is(err, executor.ErrTransport) {
		t.Fatalf("Stop err = %v, want ErrTransport", err)
	}
	if !sup.Watching("sess-1") {
		t.Fatal("supervision must resume after a failed remote stop")
	}

	// Once the cancelled goroutine finishes its probe and exits, the
	// replacement loop must still own the session.
	time.Sleep(3 * ctrl.probeDelay)
	if !sup.Watching("sess-1") {
		t.Error("replacement loop was unregistered by the exiting goroutine")
	}
	if got := reg.status("sess-1"); got != sessiondomain.StatusRunning {
		t.Errorf("status = %s, want running", got)
	}
}

func TestRehydrate(t *testing.T) {
	running := testSession(sessiondomain.StatusRunning)
	interrupted := testSession(sessiondomain.StatusSetup)
	interrupted.ID = "sess-2"
	done := testSession(sessiondomain.StatusStopped)
	done.ID = "sess-3"

	ctrl := &fakeController{}
	reg := newMemRegistry(running, interrupted, done)
	sup := New(ctrl, reg, nil, nil, Options{PollInterval: testPoll})
	defer sup.Shutdown()

	resumed, err := sup.Rehydrate(context.Background())
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}
	if !sup.Watching("sess-1") {
		t.Error("running session not resumed")
	}
	if got := reg.status("sess-2"); got != sessiondomain.StatusFailed {
		t.Errorf("interrupted setup session status = %s, want failed", got)
	}
	if sup.Watching("sess-2") || sup.Watching("sess-3") {
		t.Error("only running sessions get a watch loop")
	}
}

func TestSampling(t *testing.T) {
	ctrl := &fakeController{statsOutput: "speed 42.5 accepted 7 rejected 1"}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sink := &memSink{}
	sup := New(ctrl, reg, sink, nil, Options{PollInterval: testPoll, SampleProbability: 0.5})
	sup.randF = func() float64 { return 0.1 } // always below the threshold

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 1 }, "no sample recorded")
	sup.Shutdown()

	sink.mu.Lock()
	got := sink.samples[0]
	sink.mu.Unlock()
	if got.SessionID != "sess-1" || got.Rate != 42.5 || got.Accepted != 7 || got.Rejected != 1 {
		t.Errorf("sample = %+v", got)
	}
}

func TestSampling_SkippedAboveThreshold(t *testing.T) {
	ctrl := &fakeController{statsOutput: "speed 42.5 accepted 7 rejected 1"}
	reg := newMemRegistry(testSession(sessiondomain.StatusRunning))
	sink := &memSink{}
	sup := New(ctrl, reg, sink, nil, Options{PollInterval: testPoll, SampleProbability: 0.5})
	sup.randF = func() float64 { return 0.9 } // always above the threshold

	if err := sup.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		probes, _, _ := ctrl.counts()
		return probes >= 3
	}, "loop did not tick")
	sup.Shutdown()

	if sink.count() != 0 {
		t.Errorf("samples = %d, want 0", sink.count())
	}
}
