package supervisor

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	eventdomain "remote-job-supervisor/internal/events/domain"
	sessiondomain "remote-job-supervisor/internal/session/domain"
	"remote-job-supervisor/internal/stats"
	statsdomain "remote-job-supervisor/internal/stats/domain"
)

func defaultRand() float64 { return rand.Float64() }

// run is one session's watch loop. Each tick probes the remote job; a dead job
// is restarted up to maxRestartAttempts times before the session is marked
// failed. Transport failures double the wait between probes since the remote
// state is unknown and must not be read as "job down".
func (s *Supervisor) run(ctx context.Context, sess *sessiondomain.Session, h *loopHandle) {
	defer s.wg.Done()
	defer s.removeLoop(sess.ID, h)

	delay := s.pollInterval
	attempts := 0
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		res, err := s.ctrl.Probe(ctx, sess.ResourceID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			if delay < maxBackoffFactor*s.pollInterval {
				delay *= 2
			}
			log.Printf("supervisor: session %s: probe failed, next probe in %s: %v", sess.ID, delay, err)
			// The doubling delay also spaces these notices during an outage.
			s.notify(fmt.Sprintf("session %s: probe failed, next probe in %s: %v", sess.ID, delay, err))

		case res.Alive:
			attempts = 0
			delay = s.pollInterval
			s.maybeSample(ctx, sess)

		default:
			delay = s.pollInterval
			// A concurrent Stop cancels the loop before issuing the remote
			// stop; re-check so a restart cannot race it.
			if ctx.Err() != nil {
				return
			}
			attempts++
			if attempts > s.maxRestartAttempts {
				s.markFailed(sess, "restart budget exhausted")
				return
			}
			log.Printf("supervisor: session %s: job down, restart attempt %d/%d", sess.ID, attempts, s.maxRestartAttempts)
			s.notify(fmt.Sprintf("session %s: job down, restart attempt %d/%d", sess.ID, attempts, s.maxRestartAttempts))
			if err := s.ctrl.ProvisionAndStart(ctx, sess.ResourceID, sess.JobParameters); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("supervisor: session %s: restart failed: %v", sess.ID, err)
				s.notify(fmt.Sprintf("session %s: restart failed: %v", sess.ID, err))
			} else {
				s.notify(fmt.Sprintf("session %s: job restarted", sess.ID))
				s.emit(eventdomain.TypeSessionRestart, sess, "")
			}
		}

		timer.Reset(delay)
	}
}

// markFailed flips the session to failed in the registry. Uses a background
// context so a cancelled loop context cannot lose the terminal transition.
func (s *Supervisor) markFailed(sess *sessiondomain.Session, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if _, err := s.sessions.Transition(ctx, sess.ID, sessiondomain.StatusFailed); err != nil {
		log.Printf("supervisor: session %s: mark failed: %v", sess.ID, err)
		return
	}
	s.notify(fmt.Sprintf("session %s: marked failed: %s", sess.ID, detail))
	s.emit(eventdomain.TypeSessionFailed, sess, detail)
}

// maybeSample reads job diagnostics with the configured probability and stores
// the parsed metrics. Best-effort: failures are logged and do not affect the loop.
func (s *Supervisor) maybeSample(ctx context.Context, sess *sessiondomain.Session) {
	if s.stats == nil || s.randF() >= s.sampleProbability {
		return
	}
	out, err := s.ctrl.SampleStats(ctx, sess.ResourceID)
	if err != nil {
		log.Printf("supervisor: session %s: stats read failed: %v", sess.ID, err)
		return
	}
	m := stats.Parse(out)
	sample := &statsdomain.Sample{
		SessionID: sess.ID,
		Timestamp: s.nowF(),
		Rate:      m.Rate,
		Accepted:  m.Accepted,
		Rejected:  m.Rejected,
	}
	if err := s.stats.Insert(ctx, sample); err != nil {
		log.Printf("supervisor: session %s: store sample: %v", sess.ID, err)
	}
}
