package game

import "time"

type Phase string

const (
	// PhaseLobby is the implicit phase of a room whose game has not started;
	// a session with no stored phase reads as Lobby.
	PhaseLobby   Phase = "Lobby"
	PhaseTurn    Phase = "Turn"
	PhaseCollect Phase = "Collect"
	PhaseResolve Phase = "Resolve"
	PhaseEnd     Phase = "End"
)

// Kind is the content type a round asks for. Rounds alternate between the
// two: a drawing round collects phrases, a phrase round collects drawings.
type Kind string

const (
	KindImage  Kind = "image"
	KindPhrase Kind = "phrase"
)

func (k Kind) Next() Kind {
	if k == KindImage {
		return KindPhrase
	}
	return KindImage
}

// Rotation picks who may become the next active player.
type Rotation string

const (
	// RotationSequential excludes everyone who has already held the active
	// role this game; the game ends once every member has had a turn.
	RotationSequential Rotation = "sequential"
	// RotationRepeating only excludes the current active player.
	RotationRepeating Rotation = "repeating"
)

// Scoring picks how a round's responses are credited.
type Scoring string

const (
	// ScoringVote has the active player pick one winning response.
	ScoringVote Scoring = "vote"
	// ScoringAuto credits every response author one point.
	ScoringAuto Scoring = "auto"
)

// Rules is the per-variant configuration of a game engine.
type Rules struct {
	Rotation Rotation
	Scoring  Scoring

	DrawTime    time.Duration
	WriteTime   time.Duration
	CollectTime time.Duration
	VoteTime    time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Rotation:    RotationSequential,
		Scoring:     ScoringVote,
		DrawTime:    45 * time.Second,
		WriteTime:   30 * time.Second,
		CollectTime: 60 * time.Second,
		VoteTime:    30 * time.Second,
	}
}

// TurnTime is the active player's window for the given content kind.
func (r Rules) TurnTime(k Kind) time.Duration {
	if k == KindImage {
		return r.DrawTime
	}
	return r.WriteTime
}
