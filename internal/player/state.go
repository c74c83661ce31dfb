package player

type State int

const (
	Uninitialized State = iota
	CheckingAccess
	Denied
	AcquiringToken
	LoadingSource
	Ready
	Playing
	Paused
	Ended
	Errored
)

var stateNames = [...]string{
	Uninitialized:  "uninitialized",
	CheckingAccess: "checking_access",
	Denied:         "denied",
	AcquiringToken: "acquiring_token",
	LoadingSource:  "loading_source",
	Ready:          "ready",
	Playing:        "playing",
	Paused:         "paused",
	Ended:          "ended",
	Errored:        "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the current load can make no further progress.
func (s State) Terminal() bool {
	return s == Denied || s == Ended || s == Errored
}
