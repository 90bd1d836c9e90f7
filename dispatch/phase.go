package dispatch

import "xdao.co/routeplane/model"

// Phase is the dispatcher's position in its lifecycle.
type Phase string

const (
	PhaseEmpty       Phase = "empty"
	PhaseCommitted   Phase = "committed"
	PhaseActivatable Phase = "activatable"
	PhaseActive      Phase = "active"
	PhaseFrozen      Phase = "frozen"
)

// PhaseOf derives the phase of st at chain time now.
func PhaseOf(st *model.DispatcherState, now uint64) Phase {
	switch {
	case st.Frozen:
		return PhaseFrozen
	case st.Pending && model.DelayElapsed(st.CommittedAt, st.ActivationDelay, now):
		return PhaseActivatable
	case st.Pending:
		return PhaseCommitted
	case !st.ActiveRoot.IsZero():
		return PhaseActive
	default:
		return PhaseEmpty
	}
}

// Coverage reports how much of the current commitment has been applied.
type Coverage struct {
	Epoch    uint64 `json:"epoch"`
	Expected uint32 `json:"expected"`
	Applied  int    `json:"applied"`
	Complete bool   `json:"complete"`
}
