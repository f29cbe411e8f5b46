package realtime

import "strings"

type TurnState int

const (
	TurnIdle TurnState = iota
	TurnUserSpeaking
	TurnUserProcessing
	TurnAssistantSpeaking
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnUserSpeaking:
		return "user-speaking"
	case TurnUserProcessing:
		return "user-processing"
	case TurnAssistantSpeaking:
		return "assistant-speaking"
	}
	return "unknown"
}

// Utterance accumulates transcript deltas of the open assistant response.
// The emitted flag survives Reset so that a response finalized through the
// transcript path is not finalized again when the response completes.
type Utterance struct {
	responseID string
	parts      []string
	emitted    bool
	final      string
}

// Begin discards everything and opens a new response.
func (u *Utterance) Begin(responseID string) {
	*u = Utterance{responseID: responseID}
}

func (u *Utterance) Append(delta string) {
	u.parts = append(u.parts, delta)
}

func (u *Utterance) Text() string {
	return strings.Join(u.parts, "")
}

// Reset clears the accumulated fragments only.
func (u *Utterance) Reset() {
	u.parts = nil
}

func (u *Utterance) MarkEmitted(text string) {
	u.emitted = true
	if u.final != "" {
		u.final += " "
	}
	u.final += text
}

func (u *Utterance) Emitted() bool { return u.emitted }

// AlreadyFinal reports whether text was already finalized for this response.
func (u *Utterance) AlreadyFinal(text string) bool {
	return u.emitted && strings.Contains(u.final, text)
}

func (u *Utterance) ResponseID() string { return u.responseID }

type PendingToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// Session is the state of one live conversation. It is owned by the
// engine and only touched with the engine lock held.
type Session struct {
	channel      Channel
	audioEnabled bool
	turn         TurnState
	utterance    Utterance
	pending      *PendingToolCall
	// user item ids already finalized
	finalized map[string]struct{}
	done      chan struct{}
}

func newSession(ch Channel) *Session {
	return &Session{
		channel:      ch,
		audioEnabled: true,
		turn:         TurnIdle,
		finalized:    make(map[string]struct{}),
		done:         make(chan struct{}),
	}
}
