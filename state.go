package httpreply

// ReplyState is the lifecycle state of a reply.
type ReplyState int

const (
	Idle ReplyState = iota
	Buffering
	WaitingForSession
	Working
	Reconnecting
	Finished
	Aborted
)

var stateNames = [...]string{
	Idle:              "idle",
	Buffering:         "buffering",
	WaitingForSession: "waiting-for-session",
	Working:           "working",
	Reconnecting:      "reconnecting",
	Finished:          "finished",
	Aborted:           "aborted",
}

func (s ReplyState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s ReplyState) terminal() bool {
	return s == Finished || s == Aborted
}

// allowed transitions; every redirect hop moves Working to Working
var transitions = map[ReplyState][]ReplyState{
	Idle:              {Buffering, WaitingForSession, Working, Finished, Aborted},
	Buffering:         {WaitingForSession, Working, Finished, Aborted},
	WaitingForSession: {Working, Finished, Aborted},
	Working:           {Working, Reconnecting, Finished, Aborted},
	Reconnecting:      {Working, Finished, Aborted},
}

func (s ReplyState) canMoveTo(next ReplyState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
