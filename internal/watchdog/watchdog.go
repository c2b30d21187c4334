// Package watchdog implements the periodic health evaluation,
// progressive escalation ladder, terminal reconciliation, and failure
// recording that make up the hardest component of the coordination
// core (§4.5). It follows the teacher's orchestrator.go pattern: a
// struct holding injected collaborators, a single-threaded tick loop,
// and a scheduler goroutine guarded by a stop channel.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jayminwest/overstory/internal/collab"
	"github.com/jayminwest/overstory/internal/config"
	"github.com/jayminwest/overstory/internal/corelog"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/rundetect"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
	"github.com/jayminwest/overstory/pkg/models"
)

// HealthObserver is notified once per session per tick with the
// reconciled health result (§4.5.1.e, the onHealthCheck callback).
type HealthObserver func(s *session.Session, result HealthResult)

// Watchdog owns the periodic tick loop. Every external collaborator
// it touches is injected (§9's dependency-injection mandate): tests
// supply stubs, production wiring supplies the default adapters.
type Watchdog struct {
	db      *store.DB
	broker  *mail.Broker
	detector *rundetect.Detector
	cfg     *config.Config
	logger  *corelog.Logger

	tmux    collab.TerminalMultiplexer
	tracker collab.TicketTracker
	learning collab.LearningStore
	triage  collab.Triage
	runPtr  collab.CurrentRunPointer

	projectRoot string
	onHealth    HealthObserver

	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
	ticking bool
}

// Deps bundles the collaborators a Watchdog needs. DB, Broker and
// Config are required. Of the rest: a nil Triage makes level-2
// escalation a no-op (equivalent to AI triage disabled), a nil
// LearningStore skips failure recording, a nil Tracker skips
// ticket-closed autocompletion, and a nil RunPointer skips the
// run-completion check. A nil Tmux makes every liveness probe report
// a dead terminal, so each non-completed session is terminated on its
// next tick.
type Deps struct {
	DB          *store.DB
	Broker      *mail.Broker
	ProjectRoot string
	Config      *config.Config
	Logger      *corelog.Logger
	Tmux        collab.TerminalMultiplexer
	Tracker     collab.TicketTracker
	Learning    collab.LearningStore
	Triage      collab.Triage
	RunPointer  collab.CurrentRunPointer
	OnHealth    HealthObserver
}

// New constructs a Watchdog from deps.
func New(deps Deps) *Watchdog {
	logger := deps.Logger
	if logger == nil {
		logger = corelog.Nop()
	}
	if deps.Broker != nil {
		deps.Broker.SetLogger(logger)
	}
	detector := rundetect.New(deps.DB, deps.Broker, deps.Config.Paths.StateDir)
	detector.SetLogger(logger)
	return &Watchdog{
		db:          deps.DB,
		broker:      deps.Broker,
		detector:    detector,
		cfg:         deps.Config,
		logger:      logger,
		tmux:        deps.Tmux,
		tracker:     deps.Tracker,
		learning:    deps.Learning,
		triage:      deps.Triage,
		runPtr:      deps.RunPointer,
		projectRoot: deps.ProjectRoot,
		onHealth:    deps.OnHealth,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start schedules ticks every cfg.Watchdog.Interval, firing the first
// tick immediately (§4.5.5). It returns immediately; the scheduler
// runs in its own goroutine until Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.doneCh)

	w.safeTick(ctx)

	ticker := time.NewTicker(w.cfg.Watchdog.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.safeTick(ctx)
		}
	}
}

// Stop cancels periodic scheduling. It does not interrupt an
// in-flight tick (§4.5.5): any in-flight work completes, then the
// loop exits.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// safeTick runs one tick, recovering from any panic so a single
// malformed session can never take down the supervisor (§4.5, §7).
func (w *Watchdog) safeTick(ctx context.Context) {
	w.mu.Lock()
	if w.ticking {
		w.mu.Unlock()
		return
	}
	w.ticking = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.ticking = false
		w.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("watchdog tick panicked, swallowing: %v", r)
		}
	}()

	if err := w.Tick(ctx); err != nil {
		w.logger.Warn("watchdog tick failed: %v", err)
	}
}

// Tick implements the procedure of §4.5.1.
func (w *Watchdog) Tick(ctx context.Context) error {
	sessions, err := w.db.GetAll()
	if err != nil {
		return err
	}

	closedBeads := w.closedBeads(ctx, sessions)
	now := time.Now()
	thresholds := w.thresholds()

	for _, s := range sessions {
		if s.State == session.StateCompleted {
			continue
		}
		w.evaluateSessionSafely(ctx, s, closedBeads, thresholds, now)
	}

	if w.runPtr != nil {
		runID, err := w.runPtr.CurrentRunID()
		if err == nil && runID != "" {
			if _, detErr := w.detector.Check(runID); detErr != nil {
				w.logger.Warn("run-completion check failed: %v", detErr)
			}
		}
	}

	return nil
}

// evaluateSessionSafely isolates one session's evaluation behind a
// panic recovery barrier so a single bad row cannot abort the tick
// for the rest of the fleet.
func (w *Watchdog) evaluateSessionSafely(ctx context.Context, s *session.Session, closedBeads map[string]bool, thresholds models.WatchdogThresholds, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("evaluation of session %s panicked, swallowing: %v", s.AgentName, r)
		}
	}()
	w.evaluateSession(ctx, s, closedBeads, thresholds, now)
}

func (w *Watchdog) evaluateSession(ctx context.Context, s *session.Session, closedBeads map[string]bool, thresholds models.WatchdogThresholds, now time.Time) {
	if s.BeadID != "" && closedBeads[s.BeadID] {
		_ = w.db.UpdateState(s.AgentName, session.StateCompleted)
		_ = w.db.UpdateEscalation(s.AgentName, 0, nil)
		w.appendEvent(models.Event{
			AgentName: s.AgentName,
			SessionID: s.ID,
			RunID:     derefString(s.RunID),
			EventType: models.EventBeadClosedAutocomplete,
			Level:     models.EventLevelInfo,
			Data:      map[string]any{"beadId": s.BeadID},
		})
		return
	}

	alive := w.probeLiveness(ctx, s.TmuxSession)
	result := evaluateHealth(s, alive, thresholds, now)

	if w.onHealth != nil {
		w.onHealth(s, result)
	}
	if result.ReconciliationNote != "" {
		w.appendEvent(models.Event{
			AgentName: s.AgentName,
			SessionID: s.ID,
			RunID:     derefString(s.RunID),
			EventType: models.EventReconciliationNote,
			Level:     models.EventLevelWarn,
			Data:      map[string]any{"note": result.ReconciliationNote},
		})
	}

	switch result.Action {
	case ActionTerminate:
		w.recordFailure(ctx, s, "terminal process died, session terminated", "", "")
		_ = w.db.UpdateState(s.AgentName, session.StateZombie)
		_ = w.db.UpdateEscalation(s.AgentName, 0, nil)

	case ActionInvestigate:
		// Recorded state conflicts with reality; surfaced via the
		// reconciliation note above. Do not auto-resurrect.

	case ActionNone:
		if result.NewState != s.State {
			_ = w.db.UpdateState(s.AgentName, result.NewState)
		}
		if s.StalledSince != nil {
			_ = w.db.UpdateEscalation(s.AgentName, 0, nil)
		}

	case ActionEscalate:
		w.dispatchEscalation(ctx, s, result, thresholds, now)
	}
}

// dispatchEscalation applies the progressive escalation ladder
// (§4.5.3), including the first-stall inbox check and level
// advancement by elapsed time.
func (w *Watchdog) dispatchEscalation(ctx context.Context, s *session.Session, result HealthResult, thresholds models.WatchdogThresholds, now time.Time) {
	if result.NewState != s.State {
		_ = w.db.UpdateState(s.AgentName, result.NewState)
	}

	firstStall := s.StalledSince == nil
	stalledSince := now
	if s.StalledSince != nil {
		stalledSince = *s.StalledSince
	}

	if firstStall {
		_ = w.db.UpdateEscalation(s.AgentName, 0, &stalledSince)
		w.firstStallInboxCheck(s)
		w.runLadder(ctx, s, 0)
		return
	}

	level := expectedLevel(stalledSince, now, thresholds.NudgeIntervalMs)
	if level <= s.EscalationLevel {
		return
	}
	_ = w.db.UpdateEscalation(s.AgentName, level, &stalledSince)

	terminated := w.runLadder(ctx, s, level)
	if terminated {
		_ = w.db.UpdateState(s.AgentName, session.StateZombie)
		_ = w.db.UpdateEscalation(s.AgentName, 0, nil)
	}
}

// firstStallInboxCheck implements the courtesy nudge of §4.5.3: on the
// very first tick a session enters stalled, if it has unread mail the
// watchdog immediately tells it how many messages are waiting. This
// does not advance the ladder.
func (w *Watchdog) firstStallInboxCheck(s *session.Session) {
	unread, err := w.db.GetUnreadMail(s.AgentName)
	if err != nil || len(unread) == 0 {
		return
	}
	_, sendErr := w.broker.ForceSend("watchdog", s.AgentName,
		"Unread mail waiting",
		mailCourtesyBody(len(unread)),
		mailmodel.TypeStatus, mailmodel.PriorityNormal)
	if sendErr != nil {
		w.logger.Warn("first-stall inbox nudge to %s failed: %v", s.AgentName, sendErr)
	}
}

func (w *Watchdog) probeLiveness(ctx context.Context, tmuxSession string) bool {
	if w.tmux == nil || tmuxSession == "" {
		return false
	}
	return w.tmux.IsSessionAlive(ctx, tmuxSession)
}

func (w *Watchdog) closedBeads(ctx context.Context, sessions []*session.Session) map[string]bool {
	if w.tracker == nil {
		return map[string]bool{}
	}
	var ids []string
	for _, s := range sessions {
		if s.BeadID != "" {
			ids = append(ids, s.BeadID)
		}
	}
	if len(ids) == 0 {
		return map[string]bool{}
	}

	tickCtx, cancel := context.WithTimeout(ctx, w.cfg.Watchdog.TrackerTimeout)
	defer cancel()
	return w.tracker.ClosedIDs(tickCtx, ids)
}

func (w *Watchdog) thresholds() models.WatchdogThresholds {
	return models.WatchdogThresholds{
		StaleMs:         w.cfg.Watchdog.StaleAfter.Milliseconds(),
		ZombieMs:        w.cfg.Watchdog.ZombieAfter.Milliseconds(),
		NudgeIntervalMs: w.cfg.Watchdog.NudgeInterval.Milliseconds(),
	}
}

// appendEvent persists e to the durable events store and mirrors it
// to the structured logger at the matching level (§1.2's ambient-
// logging contract). The append is best-effort, matching §7's
// treatment of coordination-core failures as non-fatal within a tick.
func (w *Watchdog) appendEvent(e models.Event) {
	if err := w.db.AppendEvent(e); err != nil {
		w.logger.Warn("append event %s failed: %v", e.EventType, err)
	}
	w.logger.Emit(e)
}

func mailCourtesyBody(count int) string {
	if count == 1 {
		return "You have 1 unread message. Run `overstory mail check` to read it."
	}
	return fmt.Sprintf("You have %d unread messages waiting. Run `overstory mail check` to read them.", count)
}
