package model

// EventPollUpdate is the type tag of every message pushed to poll subscribers.
const EventPollUpdate = "poll_update"

type OptionCount struct {
	OptionID string `json:"option_id"`
	Count    int    `json:"count"`
}

// Tally is a point-in-time view of a poll's counts. Version increases by one
// with every applied vote on the poll.
type Tally struct {
	PollID  string
	Version uint64
	Counts  []OptionCount
}

// Map returns the counts keyed by option id.
func (t Tally) Map() map[string]int {
	m := make(map[string]int, len(t.Counts))
	for _, c := range t.Counts {
		m[c.OptionID] = c.Count
	}
	return m
}

// Total is the number of votes applied to the poll.
func (t Tally) Total() int {
	var n int
	for _, c := range t.Counts {
		n += c.Count
	}
	return n
}

// PollUpdate is the wire shape sent to subscribers, both as the initial
// snapshot and for every later change. Clients replace their state on receipt.
type PollUpdate struct {
	Type    string        `json:"type"`
	PollID  string        `json:"poll_id"`
	Version uint64        `json:"version"`
	Tallies []OptionCount `json:"tallies"`
}

func NewPollUpdate(t Tally) PollUpdate {
	tallies := t.Counts
	if tallies == nil {
		tallies = []OptionCount{}
	}
	return PollUpdate{
		Type:    EventPollUpdate,
		PollID:  t.PollID,
		Version: t.Version,
		Tallies: tallies,
	}
}
