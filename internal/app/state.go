package app

// State is the coarse lifecycle phase of the process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
)
