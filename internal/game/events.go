package game

// Outbound event names. The engine returns these as data; the transport
// layer decides how to deliver them.
const (
	EventPlayersUpdate = "players_update"
	EventAdmin         = "admin"
	EventGameStart     = "game_start"
	EventStateChange   = "state_change"
	EventNewPrompt     = "new_prompt"
	EventNextStep      = "next_step"
	EventDraw          = "draw"
	EventAnswersIn     = "answers_in"
	EventReveal        = "reveal"
	EventGameEnd       = "game_end"
)

type ScopeKind int

const (
	// ScopeRoom targets every connection in the room.
	ScopeRoom ScopeKind = iota
	// ScopeParticipant targets a single connection.
	ScopeParticipant
)

type Scope struct {
	Kind ScopeKind
	ID   string
}

// Event is one broadcast resulting from a state transition.
type Event struct {
	Name    string
	Scope   Scope
	Payload any
}

func toRoom(room, name string, payload any) Event {
	return Event{Name: name, Scope: Scope{Kind: ScopeRoom, ID: room}, Payload: payload}
}

func toParticipant(id, name string, payload any) Event {
	return Event{Name: name, Scope: Scope{Kind: ScopeParticipant, ID: id}, Payload: payload}
}

// Sink receives events produced outside a request handler, i.e. by phase
// timers. The transport layer registers one before the first round starts.
type Sink func(events []Event)
