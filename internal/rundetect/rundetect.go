// Package rundetect implements the run-completion detector (§4.6): it
// watches for the moment every non-persistent worker in the active
// run reaches terminal state and fires exactly one notification to
// the coordinator.
package rundetect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jayminwest/overstory/internal/corelog"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
	"github.com/jayminwest/overstory/pkg/models"
)

// Detector evaluates run-completion on each watchdog tick.
type Detector struct {
	db       *store.DB
	broker   *mail.Broker
	markerPath string
	logger   *corelog.Logger
}

// New constructs a Detector. stateDir holds the run-complete marker
// file (§3.5).
func New(db *store.DB, broker *mail.Broker, stateDir string) *Detector {
	return &Detector{
		db:         db,
		broker:     broker,
		markerPath: filepath.Join(stateDir, "run-complete-notified"),
	}
}

// SetLogger wires a structured-event logger so the run_complete event
// is mirrored to it, per §1.2's ambient-logging contract.
func (d *Detector) SetLogger(logger *corelog.Logger) {
	d.logger = logger
}

// Check runs the algorithm of §4.6 for runID. It returns whether a
// notification was fired on this call.
func (d *Detector) Check(runID string) (bool, error) {
	if runID == "" {
		return false, nil
	}

	all, err := d.db.GetByRun(runID)
	if err != nil {
		return false, fmt.Errorf("load sessions for run %s: %w", runID, err)
	}

	var workers []*session.Session
	for _, s := range all {
		if models.Capability(s.Capability).Persistent() {
			continue
		}
		workers = append(workers, s)
	}
	if len(workers) == 0 {
		return false, nil
	}

	for _, w := range workers {
		if w.State != session.StateCompleted {
			return false, nil
		}
	}

	already, err := d.readMarker()
	if err != nil {
		return false, fmt.Errorf("read run-complete marker: %w", err)
	}
	if already == runID {
		return false, nil
	}

	subject, body := buildMessage(workers)

	_, sendErr := d.broker.ForceSend("system", "coordinator", subject, body, mailmodel.TypeStatus, mailmodel.PriorityHigh)
	if sendErr != nil {
		// Non-fatal per §4.6: only the dedup marker write is a hard
		// boundary. The notification attempt still counts.
		_ = sendErr
	}

	completionEvent := models.Event{
		RunID:     runID,
		AgentName: "system",
		EventType: models.EventRunComplete,
		Level:     models.EventLevelInfo,
		Data: map[string]any{
			"workerCount": len(workers),
		},
	}
	_ = d.db.AppendEvent(completionEvent)
	if d.logger != nil {
		d.logger.Emit(completionEvent)
	}

	if err := d.writeMarker(runID); err != nil {
		return true, fmt.Errorf("write run-complete marker: %w", err)
	}
	return true, nil
}

func buildMessage(workers []*session.Session) (subject, body string) {
	capabilities := map[string]int{}
	for _, w := range workers {
		capabilities[w.Capability]++
	}

	if len(capabilities) == 1 {
		for c := range capabilities {
			return fmt.Sprintf("Run complete: all %s agents finished", c),
				fmt.Sprintf("All %d %s agents in this run have reached completed state.", len(workers), c)
		}
	}

	names := make([]string, 0, len(capabilities))
	for c := range capabilities {
		names = append(names, c)
	}
	sort.Strings(names)

	var breakdown strings.Builder
	for _, c := range names {
		fmt.Fprintf(&breakdown, "%s: %d\n", c, capabilities[c])
	}
	return "Run complete: all workers finished",
		fmt.Sprintf("All %d workers in this run have reached completed state.\n\n%s", len(workers), breakdown.String())
}

func (d *Detector) readMarker() (string, error) {
	data, err := os.ReadFile(d.markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (d *Detector) writeMarker(runID string) error {
	if err := os.MkdirAll(filepath.Dir(d.markerPath), 0755); err != nil {
		return err
	}
	tmp := d.markerPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(runID), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, d.markerPath)
}
