package game

import (
	"context"

	"github.com/rylo-kin/sketchrelay/internal/entity"
	"github.com/rylo-kin/sketchrelay/internal/store"
)

// Field tables. One table per entity kind; the entity package turns these
// into store keys.
var (
	playerName   = entity.Field{Name: "name", Card: entity.One}
	playerAnswer = entity.Field{Name: "answer", Card: entity.One}
	playerScore  = entity.Field{Name: "score", Card: entity.One}

	answerPlayer  = entity.Field{Name: "player", Card: entity.One}
	answerContent = entity.Field{Name: "content", Card: entity.One}
	answerKind    = entity.Field{Name: "kind", Card: entity.One}

	sessionAdmin   = entity.Field{Name: "admin", Card: entity.One}
	sessionCurrent = entity.Field{Name: "current", Card: entity.One}
	sessionPrompt  = entity.Field{Name: "prompt", Card: entity.One}
	sessionPhase   = entity.Field{Name: "phase", Card: entity.One}
	sessionRound   = entity.Field{Name: "round", Card: entity.One}
	sessionKind    = entity.Field{Name: "kind", Card: entity.One}
	sessionAdvance = entity.Field{Name: "advance", Card: entity.One}
	sessionMembers = entity.Field{Name: "members", Card: entity.Many}
	sessionAnswers = entity.Field{Name: "answers", Card: entity.Many}
	sessionPlayed  = entity.Field{Name: "played", Card: entity.Many}
	sessionWinners = entity.Field{Name: "winners", Card: entity.Many}
)

// Player is an ephemeral participant, keyed by its connection id.
type Player struct {
	e entity.Entity
}

func NewPlayer(st store.Store, id string) Player {
	return Player{e: entity.New(st, "player:"+id)}
}

func (p Player) ID() string { return p.e.ID()[len("player:"):] }

func (p Player) Name(ctx context.Context) (string, error) {
	name, _, err := p.e.Get(ctx, playerName)
	return name, err
}

func (p Player) SetName(ctx context.Context, name string) error {
	return p.e.Set(ctx, playerName, name)
}

// AnswerID is the player's response for the current round, if any.
func (p Player) AnswerID(ctx context.Context) (string, bool, error) {
	return p.e.Get(ctx, playerAnswer)
}

// ClaimAnswer reserves the player's one response slot for the round. Exactly
// one concurrent submission per player gets true.
func (p Player) ClaimAnswer(ctx context.Context, answerID string) (bool, error) {
	return p.e.SetOnce(ctx, playerAnswer, answerID)
}

func (p Player) ClearAnswer(ctx context.Context) error {
	return p.e.Clear(ctx, playerAnswer)
}

func (p Player) Score(ctx context.Context) (int64, error) {
	n, _, err := p.e.GetInt(ctx, playerScore)
	return n, err
}

func (p Player) AddScore(ctx context.Context, delta int64) error {
	_, err := p.e.Incr(ctx, playerScore, delta)
	return err
}

// Reset clears all player fields when the connection ends.
func (p Player) Reset(ctx context.Context) error {
	for _, f := range []entity.Field{playerName, playerAnswer, playerScore} {
		if err := p.e.Clear(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Answer is one response submitted during the collect phase. It is written
// once and never mutated.
type Answer struct {
	e entity.Entity
}

func NewAnswer(st store.Store, id string) Answer {
	return Answer{e: entity.New(st, "answer:"+id)}
}

func (a Answer) ID() string { return a.e.ID()[len("answer:"):] }

func (a Answer) Create(ctx context.Context, playerID, content string, kind Kind) error {
	if err := a.e.Set(ctx, answerPlayer, playerID); err != nil {
		return err
	}
	if err := a.e.Set(ctx, answerContent, content); err != nil {
		return err
	}
	return a.e.Set(ctx, answerKind, string(kind))
}

func (a Answer) PlayerID(ctx context.Context) (string, error) {
	id, _, err := a.e.Get(ctx, answerPlayer)
	return id, err
}

func (a Answer) Content(ctx context.Context) (string, error) {
	content, _, err := a.e.Get(ctx, answerContent)
	return content, err
}

func (a Answer) Kind(ctx context.Context) (Kind, error) {
	k, _, err := a.e.Get(ctx, answerKind)
	return Kind(k), err
}

func (a Answer) Destroy(ctx context.Context) error {
	for _, f := range []entity.Field{answerPlayer, answerContent, answerKind} {
		if err := a.e.Clear(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Session is the root entity of one room.
type Session struct {
	st store.Store
	e  entity.Entity
}

func NewSession(st store.Store, room string) Session {
	return Session{st: st, e: entity.New(st, "game:"+room)}
}

func (s Session) Room() string { return s.e.ID()[len("game:"):] }

func (s Session) Admin(ctx context.Context) (string, error) {
	admin, _, err := s.e.Get(ctx, sessionAdmin)
	return admin, err
}

// ClaimAdmin makes the caller admin if the room has none yet.
func (s Session) ClaimAdmin(ctx context.Context, playerID string) (bool, error) {
	return s.e.SetOnce(ctx, sessionAdmin, playerID)
}

func (s Session) Current(ctx context.Context) (string, error) {
	current, _, err := s.e.Get(ctx, sessionCurrent)
	return current, err
}

func (s Session) SetCurrent(ctx context.Context, playerID string) error {
	return s.e.Set(ctx, sessionCurrent, playerID)
}

// Phase reads the session phase; a room with no stored phase is in the lobby.
func (s Session) Phase(ctx context.Context) (Phase, error) {
	phase, ok, err := s.e.Get(ctx, sessionPhase)
	if err != nil || !ok {
		return PhaseLobby, err
	}
	return Phase(phase), nil
}

func (s Session) SetPhase(ctx context.Context, phase Phase) error {
	return s.e.Set(ctx, sessionPhase, string(phase))
}

// Round is the identity of the round in progress; stale timers compare
// against it before acting.
func (s Session) Round(ctx context.Context) (string, error) {
	round, _, err := s.e.Get(ctx, sessionRound)
	return round, err
}

func (s Session) SetRound(ctx context.Context, round string) error {
	return s.e.Set(ctx, sessionRound, round)
}

func (s Session) Prompt(ctx context.Context) (string, error) {
	prompt, _, err := s.e.Get(ctx, sessionPrompt)
	return prompt, err
}

func (s Session) SetPrompt(ctx context.Context, prompt string) error {
	return s.e.Set(ctx, sessionPrompt, prompt)
}

func (s Session) Kind(ctx context.Context) (Kind, error) {
	k, ok, err := s.e.Get(ctx, sessionKind)
	if err != nil || !ok {
		return KindImage, err
	}
	return Kind(k), nil
}

func (s Session) SetKind(ctx context.Context, k Kind) error {
	return s.e.Set(ctx, sessionKind, string(k))
}

func (s Session) Members(ctx context.Context) ([]string, error) {
	return s.e.Members(ctx, sessionMembers)
}

func (s Session) AddMember(ctx context.Context, playerID string) error {
	return s.e.Add(ctx, sessionMembers, playerID)
}

func (s Session) RemoveMember(ctx context.Context, playerID string) error {
	return s.e.Remove(ctx, sessionMembers, playerID)
}

func (s Session) Answers(ctx context.Context) ([]string, error) {
	return s.e.Members(ctx, sessionAnswers)
}

func (s Session) AddAnswer(ctx context.Context, answerID string) error {
	return s.e.Add(ctx, sessionAnswers, answerID)
}

func (s Session) RemoveAnswer(ctx context.Context, answerID string) error {
	return s.e.Remove(ctx, sessionAnswers, answerID)
}

func (s Session) Played(ctx context.Context) ([]string, error) {
	return s.e.Members(ctx, sessionPlayed)
}

func (s Session) AddPlayed(ctx context.Context, playerID string) error {
	return s.e.Add(ctx, sessionPlayed, playerID)
}

func (s Session) Winners(ctx context.Context) ([]string, error) {
	return s.e.Members(ctx, sessionWinners)
}

func (s Session) AddWinner(ctx context.Context, answerID string) error {
	return s.e.Add(ctx, sessionWinners, answerID)
}

// ClaimTransition gates a phase transition for one round. Two handlers
// racing the same transition agree on a single winner.
func (s Session) ClaimTransition(ctx context.Context, round string, to Phase) (bool, error) {
	return s.e.Once(ctx, sessionAdvance, round+":"+string(to))
}

// ClaimVote gates the active player's single winner selection for a round.
func (s Session) ClaimVote(ctx context.Context, round string) (bool, error) {
	return s.e.Once(ctx, sessionAdvance, round+":vote")
}

// PlayerNames resolves every member to its display name.
func (s Session) PlayerNames(ctx context.Context) (map[string]string, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(members))
	for _, id := range members {
		name, err := NewPlayer(s.st, id).Name(ctx)
		if err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, nil
}

// AnswerAuthors maps every collected answer to its authoring player.
func (s Session) AnswerAuthors(ctx context.Context) (map[string]string, error) {
	answers, err := s.Answers(ctx)
	if err != nil {
		return nil, err
	}
	authors := make(map[string]string, len(answers))
	for _, id := range answers {
		playerID, err := NewAnswer(s.st, id).PlayerID(ctx)
		if err != nil {
			return nil, err
		}
		authors[id] = playerID
	}
	return authors, nil
}

// AnswerView is the reveal payload for one answer.
type AnswerView struct {
	ID       string `json:"id"`
	PlayerID string `json:"player_id"`
	Content  string `json:"content"`
	Kind     Kind   `json:"kind"`
}

// Reveal resolves every collected answer with author and content.
func (s Session) Reveal(ctx context.Context) ([]AnswerView, error) {
	answers, err := s.Answers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]AnswerView, 0, len(answers))
	for _, id := range answers {
		a := NewAnswer(s.st, id)
		playerID, err := a.PlayerID(ctx)
		if err != nil {
			return nil, err
		}
		content, err := a.Content(ctx)
		if err != nil {
			return nil, err
		}
		kind, err := a.Kind(ctx)
		if err != nil {
			return nil, err
		}
		views = append(views, AnswerView{ID: id, PlayerID: playerID, Content: content, Kind: kind})
	}
	return views, nil
}

// Scores resolves every member to its score.
func (s Session) Scores(ctx context.Context) (map[string]int64, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int64, len(members))
	for _, id := range members {
		score, err := NewPlayer(s.st, id).Score(ctx)
		if err != nil {
			return nil, err
		}
		scores[id] = score
	}
	return scores, nil
}
