package build

// Phase is a state of the build state machine.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseCloning    Phase = "cloning"
	PhaseInstalling Phase = "installing"
	PhaseBuilding   Phase = "building"
	PhaseUploading  Phase = "uploading"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// transitions lists the allowed successor of each phase. The machine is
// strictly linear; Failed is reachable from every working phase.
var transitions = map[Phase][]Phase{
	PhaseQueued:     {PhaseCloning, PhaseFailed},
	PhaseCloning:    {PhaseInstalling, PhaseFailed},
	PhaseInstalling: {PhaseBuilding, PhaseFailed},
	PhaseBuilding:   {PhaseUploading, PhaseFailed},
	PhaseUploading:  {PhaseDone, PhaseFailed},
	PhaseDone:       {},
	PhaseFailed:     {},
}

// CanTransition reports whether the machine may move from one phase to another.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

func (p Phase) String() string {
	return string(p)
}
