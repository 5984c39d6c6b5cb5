package workflow

import (
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// Input is the state a step evaluation is derived from.
type Input struct {
	Filing *domain.Filing
	// Counts is the record count per family, read from the record store.
	Counts map[domain.Family]int
	// Snapshot is a freshly computed snapshot, nil when aggregation failed.
	Snapshot *domain.Snapshot
	// SnapshotErr is the aggregation failure, if any.
	SnapshotErr error
}

// StepState is the derived state of one step.
type StepState struct {
	ID        domain.StepID   `json:"id"`
	Title     string          `json:"title"`
	Ordinal   int             `json:"ordinal"`
	Complete  bool            `json:"complete"`
	Ready     bool            `json:"ready"`
	Confirmed bool            `json:"confirmed"`
	Entered   bool            `json:"entered"`
	Enterable bool            `json:"enterable"`
	Unmet     []domain.StepID `json:"unmet,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Evaluation holds every step's derived state for one request.
type Evaluation struct {
	filing *domain.Filing
	states map[domain.StepID]*StepState
}

// Evaluate derives completeness and enterability of every step.
func Evaluate(in Input) *Evaluation {
	e := &Evaluation{filing: in.Filing, states: make(map[domain.StepID]*StepState, len(Steps))}
	for _, def := range Steps {
		st := &StepState{
			ID:        def.ID,
			Title:     def.Title,
			Ordinal:   def.Ordinal,
			Confirmed: in.Filing.HasConfirmed(def.ID),
			Entered:   in.Filing.HasEntered(def.ID),
		}
		st.Ready, st.Reason = def.ready(in)
		st.Complete = st.Ready
		if st.Ready && def.RequiresConfirmation && !st.Confirmed {
			st.Complete = false
			st.Reason = "waiting for confirmation"
		}
		e.states[def.ID] = st
	}
	for _, def := range Steps {
		st := e.states[def.ID]
		for _, dep := range def.DependsOn {
			if !e.states[dep].Complete {
				st.Unmet = append(st.Unmet, dep)
			}
		}
		st.Enterable = len(st.Unmet) == 0
	}
	return e
}

// State returns the derived state of one step.
func (e *Evaluation) State(id domain.StepID) (StepState, bool) {
	st, ok := e.states[id]
	if !ok {
		return StepState{}, false
	}
	return *st, true
}

// Complete reports whether a step is complete.
func (e *Evaluation) Complete(id domain.StepID) bool {
	st, ok := e.states[id]
	return ok && st.Complete
}

// Checklist returns every step's state in ordinal order.
func (e *Evaluation) Checklist() []StepState {
	out := make([]StepState, 0, len(Steps))
	for _, def := range Steps {
		out = append(out, *e.states[def.ID])
	}
	return out
}

// CompletedSteps lists the complete steps in ordinal order.
func (e *Evaluation) CompletedSteps() []domain.StepID {
	var out []domain.StepID
	for _, def := range Steps {
		if e.states[def.ID].Complete {
			out = append(out, def.ID)
		}
	}
	return out
}

// Incomplete lists the incomplete steps in ordinal order.
func (e *Evaluation) Incomplete() []StepState {
	var out []StepState
	for _, def := range Steps {
		if st := e.states[def.ID]; !st.Complete {
			out = append(out, *st)
		}
	}
	return out
}

// Move describes an accepted step transition.
type Move int

const (
	// MoveNone re-enters the current step.
	MoveNone Move = iota
	// MoveForward enters a step whose dependencies are complete.
	MoveForward
	// MoveBack returns to a step entered earlier.
	MoveBack
)

// CheckEnter decides whether the filing may move from its current step to
// target. Returning to an entered step is always allowed; any other move
// needs every dependency of target complete.
func CheckEnter(e *Evaluation, target domain.StepID) (Move, error) {
	const op = "AdvanceStep"
	f := e.filing

	def, ok := Lookup(target)
	if !ok {
		return MoveNone, domain.Validation(op, "unknown step %q", target)
	}
	if target == f.CurrentStep {
		return MoveNone, nil
	}

	cur, _ := Lookup(f.CurrentStep)
	if def.Ordinal < cur.Ordinal && f.HasEntered(target) {
		return MoveBack, nil
	}

	st := e.states[target]
	if len(st.Unmet) > 0 {
		return MoveNone, domain.StepNotReady(op, f.ID, target, append([]domain.StepID(nil), st.Unmet...))
	}
	return MoveForward, nil
}

// InvalidateAfter removes every step ordinally after step from the filing's
// entered, completed and confirmed sets.
func InvalidateAfter(f *domain.Filing, step domain.StepID) {
	def, ok := Lookup(step)
	if !ok {
		return
	}
	for _, later := range Steps {
		if later.Ordinal <= def.Ordinal {
			continue
		}
		f.EnteredSteps = domain.RemoveStep(f.EnteredSteps, later.ID)
		f.CompletedSteps = domain.RemoveStep(f.CompletedSteps, later.ID)
		f.ConfirmedSteps = domain.RemoveStep(f.ConfirmedSteps, later.ID)
	}
}

// Before reports whether step a comes ordinally before step b.
func Before(a, b domain.StepID) bool {
	da, okA := Lookup(a)
	db, okB := Lookup(b)
	return okA && okB && da.Ordinal < db.Ordinal
}
