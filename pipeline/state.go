package pipeline

type State int32

const (
	Loading State = iota
	WaitingModels
	Detecting
	Overlaying
	Transferring
	Done
	Failed
)

var stateNames = [...]string{
	Loading:       "Loading",
	WaitingModels: "WaitingModels",
	Detecting:     "Detecting",
	Overlaying:    "Overlaying",
	Transferring:  "Transferring",
	Done:          "Done",
	Failed:        "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

const (
	StatusLoading      = "Loading..."
	StatusModelsLoaded = "Models loaded"
	StatusTransferring = "Applying Style Transfer...!"
	StatusDone         = "Done!"
)
