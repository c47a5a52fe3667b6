package feed

// Phase is the single activity slot of the controller.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseSwitching
	PhaseLoadingMore
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitializing:
		return "initializing"
	case PhaseSwitching:
		return "switching"
	case PhaseLoadingMore:
		return "loading more"
	case PhaseRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// transitions lists every allowed phase change. A switch may replace a
// switch in flight; everything else must start from idle.
var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseInitializing, PhaseSwitching, PhaseLoadingMore, PhaseRefreshing},
	PhaseInitializing: {PhaseIdle},
	PhaseSwitching:    {PhaseIdle, PhaseSwitching},
	PhaseLoadingMore:  {PhaseIdle},
	PhaseRefreshing:   {PhaseIdle},
}

// CanTransition reports whether the controller may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// suppressesScroll reports whether scroll loads are ignored.
func (p Phase) suppressesScroll() bool {
	return p == PhaseSwitching || p == PhaseRefreshing
}

// suppressesPull reports whether a pull gesture is ignored. A pull during
// the first fetch could never start a refresh.
func (p Phase) suppressesPull() bool {
	return p.suppressesScroll() || p == PhaseInitializing
}
