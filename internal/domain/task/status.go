package task

// Status is the lifecycle state of a task.
type Status int

const (
	StatusNotStarted Status = iota
	StatusActive
	StatusInactive
	StatusRestarting
	StatusError
	StatusComplete
	StatusTerminate
)

var statusNames = [...]string{
	StatusNotStarted: "NOT_STARTED",
	StatusActive:     "ACTIVE",
	StatusInactive:   "INACTIVE",
	StatusRestarting: "RESTARTING",
	StatusError:      "ERROR",
	StatusComplete:   "COMPLETE",
	StatusTerminate:  "TERMINATE",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return 0, false
}

// Control-channel commands besides the status names.
const (
	CommandPing = "PING"
	CommandInfo = "INFO"
)

// PingReply is the payload answering CommandPing.
const PingReply = "OK"
