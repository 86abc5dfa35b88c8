package game

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/rylo-kin/sketchrelay/internal/store"
)

// PromptSource supplies round prompts. Satisfied by prompts.Pool.
type PromptSource interface {
	Random() string
}

// Engine drives the round state machine for every room sharing the store.
// Handlers may run concurrently in this and other processes; all state lives
// in the store and every phase transition is gated on a one-shot claim so
// racing handlers agree on a single winner. Actions that fail their role or
// phase checks are dropped without events, never reported to the caller.
type Engine struct {
	st    store.Store
	pool  PromptSource
	rules Rules
	sched *scheduler

	mu   sync.RWMutex
	sink Sink
}

func New(st store.Store, pool PromptSource, rules Rules) *Engine {
	return &Engine{
		st:    st,
		pool:  pool,
		rules: rules,
		sched: newScheduler(),
	}
}

// SetSink registers the receiver for timer-driven events.
func (e *Engine) SetSink(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Close stops all pending phase timers.
func (e *Engine) Close() {
	e.sched.stopAll()
}

func (e *Engine) emit(events []Event) {
	e.mu.RLock()
	sink := e.sink
	e.mu.RUnlock()
	if sink != nil && len(events) > 0 {
		sink(events)
	}
}

// Join adds a participant to a room. The first joiner becomes admin.
// Joining mid-round is allowed; the newcomer may respond in the round in
// progress and counts toward its completion check.
func (e *Engine) Join(ctx context.Context, room, actor, name string) ([]Event, error) {
	p := NewPlayer(e.st, actor)
	if err := p.SetName(ctx, name); err != nil {
		return nil, err
	}
	s := NewSession(e.st, room)
	if err := s.AddMember(ctx, actor); err != nil {
		return nil, err
	}
	becameAdmin, err := s.ClaimAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	names, err := s.PlayerNames(ctx)
	if err != nil {
		return nil, err
	}
	events := []Event{toRoom(room, EventPlayersUpdate, names)}
	if becameAdmin {
		events = append(events, toParticipant(actor, EventAdmin, nil))
	}
	return events, nil
}

// Leave drops a participant. Answers they already submitted stay in the
// round; the next eligible draw intersects with members, so they cannot be
// picked once gone.
func (e *Engine) Leave(ctx context.Context, room, actor string) ([]Event, error) {
	s := NewSession(e.st, room)
	if err := s.RemoveMember(ctx, actor); err != nil {
		return nil, err
	}
	if err := NewPlayer(e.st, actor).Reset(ctx); err != nil {
		return nil, err
	}
	names, err := s.PlayerNames(ctx)
	if err != nil {
		return nil, err
	}
	return []Event{toRoom(room, EventPlayersUpdate, names)}, nil
}

// Start begins the first round. Admin only, lobby only, once only.
func (e *Engine) Start(ctx context.Context, room, actor string) ([]Event, error) {
	s := NewSession(e.st, room)
	admin, err := s.Admin(ctx)
	if err != nil {
		return nil, err
	}
	if actor == "" || actor != admin {
		return nil, nil
	}
	phase, err := s.Phase(ctx)
	if err != nil {
		return nil, err
	}
	if phase != PhaseLobby {
		return nil, nil
	}
	won, err := s.ClaimTransition(ctx, "start", PhaseTurn)
	if err != nil || !won {
		return nil, err
	}
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	active := members[rand.Intn(len(members))]
	events, err := e.beginRound(ctx, s, active, e.pool.Random(), KindImage, EventNewPrompt)
	if err != nil {
		return nil, err
	}
	return append([]Event{toRoom(room, EventGameStart, nil)}, events...), nil
}

// beginRound resets per-round state and opens a turn for the given active
// player. Responses are cleared here and only here, once per round.
func (e *Engine) beginRound(ctx context.Context, s Session, active, prompt string, kind Kind, promptEvent string) ([]Event, error) {
	answers, err := s.Answers(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range answers {
		if err := NewAnswer(e.st, id).Destroy(ctx); err != nil {
			return nil, err
		}
		if err := s.RemoveAnswer(ctx, id); err != nil {
			return nil, err
		}
	}
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range members {
		if err := NewPlayer(e.st, id).ClearAnswer(ctx); err != nil {
			return nil, err
		}
	}

	round := uuid.NewString()
	if err := s.SetRound(ctx, round); err != nil {
		return nil, err
	}
	if err := s.SetPrompt(ctx, prompt); err != nil {
		return nil, err
	}
	if err := s.SetKind(ctx, kind); err != nil {
		return nil, err
	}
	if err := s.SetCurrent(ctx, active); err != nil {
		return nil, err
	}
	if err := s.AddPlayed(ctx, active); err != nil {
		return nil, err
	}
	if err := s.SetPhase(ctx, PhaseTurn); err != nil {
		return nil, err
	}

	room := s.Room()
	e.sched.schedule(timerKey{room: room, round: round, phase: PhaseTurn}, e.rules.TurnTime(kind), func() {
		e.expireTurn(room, round)
	})

	return []Event{
		toRoom(room, EventStateChange, map[string]any{"phase": PhaseTurn, "active": active}),
		toParticipant(active, promptEvent, map[string]any{"prompt": prompt, "kind": kind}),
	}, nil
}

// Produce relays the active player's in-progress content to the room. The
// payload is passed through unvalidated.
func (e *Engine) Produce(ctx context.Context, room, actor, content string) ([]Event, error) {
	s := NewSession(e.st, room)
	phase, err := s.Phase(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if phase != PhaseTurn || actor == "" || actor != current {
		return nil, nil
	}
	return []Event{toRoom(room, EventDraw, map[string]any{"player": actor, "content": content})}, nil
}

// FinishTurn is the active player declaring their turn done.
func (e *Engine) FinishTurn(ctx context.Context, room, actor string) ([]Event, error) {
	s := NewSession(e.st, room)
	phase, err := s.Phase(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if phase != PhaseTurn || actor == "" || actor != current {
		return nil, nil
	}
	round, err := s.Round(ctx)
	if err != nil {
		return nil, err
	}
	return e.toCollect(ctx, s, round)
}

func (e *Engine) toCollect(ctx context.Context, s Session, round string) ([]Event, error) {
	won, err := s.ClaimTransition(ctx, round, PhaseCollect)
	if err != nil || !won {
		return nil, err
	}
	if err := s.SetPhase(ctx, PhaseCollect); err != nil {
		return nil, err
	}
	room := s.Room()
	e.sched.cancel(timerKey{room: room, round: round, phase: PhaseTurn})
	e.sched.schedule(timerKey{room: room, round: round, phase: PhaseCollect}, e.rules.CollectTime, func() {
		e.expireCollect(room, round)
	})
	return []Event{toRoom(room, EventStateChange, map[string]any{"phase": PhaseCollect})}, nil
}

// Respond stores a non-active participant's answer for the round. The answer
// slot is claimed atomically, so a participant gets exactly one answer per
// round no matter how many submissions race. When the last outstanding
// answer lands, the round resolves.
func (e *Engine) Respond(ctx context.Context, room, actor, content string) ([]Event, error) {
	s := NewSession(e.st, room)
	phase, err := s.Phase(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if phase != PhaseCollect || actor == "" || actor == current {
		return nil, nil
	}
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	if !contains(members, actor) {
		return nil, nil
	}

	answerID := uuid.NewString()
	won, err := NewPlayer(e.st, actor).ClaimAnswer(ctx, answerID)
	if err != nil || !won {
		return nil, err
	}
	kind, err := s.Kind(ctx)
	if err != nil {
		return nil, err
	}
	if err := NewAnswer(e.st, answerID).Create(ctx, actor, content, kind.Next()); err != nil {
		return nil, err
	}
	if err := s.AddAnswer(ctx, answerID); err != nil {
		return nil, err
	}

	done, err := e.allAnswered(ctx, s, current)
	if err != nil || !done {
		return nil, err
	}
	round, err := s.Round(ctx)
	if err != nil {
		return nil, err
	}
	return e.toResolve(ctx, s, round)
}

// allAnswered reports whether every member except the active player has an
// answer in this round.
func (e *Engine) allAnswered(ctx context.Context, s Session, current string) (bool, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return false, err
	}
	authors, err := s.AnswerAuthors(ctx)
	if err != nil {
		return false, err
	}
	answered := make(map[string]bool, len(authors))
	for _, playerID := range authors {
		answered[playerID] = true
	}
	for _, id := range members {
		if id == current {
			continue
		}
		if !answered[id] {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) toResolve(ctx context.Context, s Session, round string) ([]Event, error) {
	won, err := s.ClaimTransition(ctx, round, PhaseResolve)
	if err != nil || !won {
		return nil, err
	}
	if err := s.SetPhase(ctx, PhaseResolve); err != nil {
		return nil, err
	}
	room := s.Room()
	e.sched.cancel(timerKey{room: room, round: round, phase: PhaseCollect})

	views, err := s.Reveal(ctx)
	if err != nil {
		return nil, err
	}
	authors := make(map[string]string, len(views))
	contents := make(map[string]string, len(views))
	for _, v := range views {
		authors[v.ID] = v.PlayerID
		contents[v.ID] = v.Content
	}
	events := []Event{
		toRoom(room, EventStateChange, map[string]any{"phase": PhaseResolve}),
		toRoom(room, EventAnswersIn, authors),
		toRoom(room, EventReveal, contents),
	}

	if e.rules.Scoring == ScoringAuto {
		for _, v := range views {
			if err := NewPlayer(e.st, v.PlayerID).AddScore(ctx, 1); err != nil {
				return nil, err
			}
		}
		next, err := e.advance(ctx, s, round, "")
		if err != nil {
			return nil, err
		}
		return append(events, next...), nil
	}

	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	e.sched.schedule(timerKey{room: room, round: round, phase: PhaseResolve}, e.rules.VoteTime, func() {
		e.expireResolve(room, round)
	})
	return append(events, toParticipant(current, EventNextStep, map[string]any{"answers": views})), nil
}

// Vote is the active player selecting the round's winning answer. Voting
// variant only; one vote per round.
func (e *Engine) Vote(ctx context.Context, room, actor, answerID string) ([]Event, error) {
	if e.rules.Scoring != ScoringVote {
		return nil, nil
	}
	s := NewSession(e.st, room)
	phase, err := s.Phase(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if phase != PhaseResolve || actor == "" || actor != current {
		return nil, nil
	}
	answers, err := s.Answers(ctx)
	if err != nil {
		return nil, err
	}
	if !contains(answers, answerID) {
		return nil, nil
	}
	round, err := s.Round(ctx)
	if err != nil {
		return nil, err
	}
	won, err := s.ClaimVote(ctx, round)
	if err != nil || !won {
		return nil, err
	}

	a := NewAnswer(e.st, answerID)
	author, err := a.PlayerID(ctx)
	if err != nil {
		return nil, err
	}
	winning, err := a.Content(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.AddWinner(ctx, answerID); err != nil {
		return nil, err
	}
	if err := NewPlayer(e.st, author).AddScore(ctx, 1); err != nil {
		return nil, err
	}

	events := []Event{toRoom(room, EventReveal, map[string]any{"winner": answerID, "player": author})}
	next, err := e.advance(ctx, s, round, winning)
	if err != nil {
		return nil, err
	}
	return append(events, next...), nil
}

// advance closes the round: either opens the next turn for a random eligible
// member, or ends the game when nobody is left to act. The winning content,
// when present, seeds the next round's prompt; otherwise a fresh prompt is
// drawn from the pool.
func (e *Engine) advance(ctx context.Context, s Session, round, winning string) ([]Event, error) {
	won, err := s.ClaimTransition(ctx, round, PhaseTurn)
	if err != nil || !won {
		return nil, err
	}
	room := s.Room()
	e.sched.cancel(timerKey{room: room, round: round, phase: PhaseResolve})

	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool)
	switch e.rules.Rotation {
	case RotationRepeating:
		current, err := s.Current(ctx)
		if err != nil {
			return nil, err
		}
		excluded[current] = true
	default:
		played, err := s.Played(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range played {
			excluded[id] = true
		}
	}
	eligible := make([]string, 0, len(members))
	for _, id := range members {
		if !excluded[id] {
			eligible = append(eligible, id)
		}
	}

	if len(eligible) == 0 {
		if err := s.SetPhase(ctx, PhaseEnd); err != nil {
			return nil, err
		}
		names, err := s.PlayerNames(ctx)
		if err != nil {
			return nil, err
		}
		scores, err := s.Scores(ctx)
		if err != nil {
			return nil, err
		}
		return []Event{
			toRoom(room, EventStateChange, map[string]any{"phase": PhaseEnd}),
			toRoom(room, EventGameEnd, map[string]any{"players": names, "scores": scores}),
		}, nil
	}

	next := eligible[rand.Intn(len(eligible))]
	kind, err := s.Kind(ctx)
	if err != nil {
		return nil, err
	}
	prompt := winning
	if prompt == "" {
		prompt = e.pool.Random()
	}
	return e.beginRound(ctx, s, next, prompt, kind.Next(), EventNextStep)
}

// Timer expiries reload the session and re-check round identity and phase
// before acting; a timer that outlived its round is a no-op. The transition
// claims make the action-vs-timer race idempotent either way.

func (e *Engine) expireTurn(room, round string) {
	ctx := context.Background()
	s := NewSession(e.st, room)
	if !e.roundCurrent(ctx, s, round, PhaseTurn) {
		return
	}
	events, err := e.toCollect(ctx, s, round)
	if err != nil {
		return
	}
	e.emit(events)
}

func (e *Engine) expireCollect(room, round string) {
	ctx := context.Background()
	s := NewSession(e.st, room)
	if !e.roundCurrent(ctx, s, round, PhaseCollect) {
		return
	}
	events, err := e.toResolve(ctx, s, round)
	if err != nil {
		return
	}
	e.emit(events)
}

func (e *Engine) expireResolve(room, round string) {
	ctx := context.Background()
	s := NewSession(e.st, room)
	if !e.roundCurrent(ctx, s, round, PhaseResolve) {
		return
	}
	// Vote window closed without a vote; nobody is credited.
	events, err := e.advance(ctx, s, round, "")
	if err != nil {
		return
	}
	e.emit(events)
}

func (e *Engine) roundCurrent(ctx context.Context, s Session, round string, phase Phase) bool {
	cur, err := s.Round(ctx)
	if err != nil || cur != round {
		return false
	}
	ph, err := s.Phase(ctx)
	return err == nil && ph == phase
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
