package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rylo-kin/sketchrelay/internal/store"
)

type fixedPool string

func (f fixedPool) Random() string { return string(f) }

// quietRules returns rules whose timers never fire during a test.
func quietRules(scoring Scoring, rotation Rotation) Rules {
	return Rules{
		Rotation:    rotation,
		Scoring:     scoring,
		DrawTime:    time.Hour,
		WriteTime:   time.Hour,
		CollectTime: time.Hour,
		VoteTime:    time.Hour,
	}
}

func findEvent(events []Event, name string) (Event, bool) {
	for _, ev := range events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

func countEvents(events []Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// startedGame joins the named players, starts the game as the first joiner
// and returns the engine's session plus the active player id.
func startedGame(t *testing.T, e *Engine, room string, players ...string) (Session, string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range players {
		if _, err := e.Join(ctx, room, id, fmt.Sprintf("player-%d", i)); err != nil {
			t.Fatalf("join %s failed: %v", id, err)
		}
	}
	events, err := e.Start(ctx, room, players[0])
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, ok := findEvent(events, EventGameStart); !ok {
		t.Fatal("start should announce game_start")
	}
	s := NewSession(e.st, room)
	active, err := s.Current(ctx)
	if err != nil || active == "" {
		t.Fatalf("no active player after start (err=%v)", err)
	}
	return s, active
}

func TestFirstJoinerBecomesAdmin(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()

	events, err := e.Join(ctx, "r1", "p1", "alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, ok := findEvent(events, EventAdmin); !ok {
		t.Fatal("first joiner should be told they are admin")
	}
	update, ok := findEvent(events, EventPlayersUpdate)
	if !ok {
		t.Fatal("join should broadcast players_update")
	}
	names := update.Payload.(map[string]string)
	if names["p1"] != "alice" {
		t.Fatalf("unexpected name map: %v", names)
	}

	events, _ = e.Join(ctx, "r1", "p2", "bob")
	if _, ok := findEvent(events, EventAdmin); ok {
		t.Fatal("second joiner must not become admin")
	}
}

func TestConcurrentJoinsElectOneAdmin(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()

	const joiners = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	admins := 0
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			events, err := e.Join(ctx, "r1", fmt.Sprintf("p%d", n), "name")
			if err != nil {
				t.Errorf("join failed: %v", err)
				return
			}
			if _, ok := findEvent(events, EventAdmin); ok {
				mu.Lock()
				admins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if admins != 1 {
		t.Fatalf("expected exactly one admin, got %d", admins)
	}
}

func TestStartRequiresAdminInLobby(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()

	e.Join(ctx, "r1", "p1", "alice")
	e.Join(ctx, "r1", "p2", "bob")

	events, err := e.Start(ctx, "r1", "p2")
	if err != nil || events != nil {
		t.Fatalf("start by non-admin should be silently dropped, got %v (err=%v)", events, err)
	}
	s := NewSession(e.st, "r1")
	if phase, _ := s.Phase(ctx); phase != PhaseLobby {
		t.Fatalf("room should still be in lobby, got %s", phase)
	}

	events, err = e.Start(ctx, "r1", "p1")
	if err != nil {
		t.Fatalf("start by admin failed: %v", err)
	}
	if phase, _ := s.Phase(ctx); phase != PhaseTurn {
		t.Fatalf("expected %s after start, got %s", PhaseTurn, phase)
	}
	active, _ := s.Current(ctx)
	prompt, ok := findEvent(events, EventNewPrompt)
	if !ok {
		t.Fatal("start should send the prompt to the active player")
	}
	if prompt.Scope.Kind != ScopeParticipant || prompt.Scope.ID != active {
		t.Fatalf("prompt should target the active player %s, got %+v", active, prompt.Scope)
	}
	if got, _ := s.Prompt(ctx); got != "prompt" {
		t.Fatalf("expected pool prompt, got %q", got)
	}

	// Starting twice is a no-op.
	events, err = e.Start(ctx, "r1", "p1")
	if err != nil || events != nil {
		t.Fatalf("second start should be dropped, got %v (err=%v)", events, err)
	}
}

func TestProduceOnlyByActivePlayerDuringTurn(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()
	_, active := startedGame(t, e, "r1", "p1", "p2")
	other := "p1"
	if active == "p1" {
		other = "p2"
	}

	events, err := e.Produce(ctx, "r1", other, "scribble")
	if err != nil || events != nil {
		t.Fatalf("produce by non-active should be dropped, got %v (err=%v)", events, err)
	}

	events, err = e.Produce(ctx, "r1", active, "scribble")
	if err != nil {
		t.Fatalf("produce failed: %v", err)
	}
	draw, ok := findEvent(events, EventDraw)
	if !ok || draw.Scope.Kind != ScopeRoom {
		t.Fatalf("expected a room-scoped draw event, got %v", events)
	}

	e.FinishTurn(ctx, "r1", active)
	events, err = e.Produce(ctx, "r1", active, "late scribble")
	if err != nil || events != nil {
		t.Fatalf("produce after the turn should be dropped, got %v (err=%v)", events, err)
	}
}

func TestDuplicateResponseRejected(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()
	s, active := startedGame(t, e, "r1", "p1", "p2", "p3")
	e.FinishTurn(ctx, "r1", active)

	responder := "p1"
	if active == "p1" {
		responder = "p2"
	}
	if _, err := e.Respond(ctx, "r1", responder, "first"); err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	events, err := e.Respond(ctx, "r1", responder, "second")
	if err != nil || events != nil {
		t.Fatalf("duplicate respond should be dropped, got %v (err=%v)", events, err)
	}

	answers, _ := s.Answers(ctx)
	if len(answers) != 1 {
		t.Fatalf("expected exactly one stored answer, got %d", len(answers))
	}
	content, _ := NewAnswer(e.st, answers[0]).Content(ctx)
	if content != "first" {
		t.Fatalf("expected the first submission to stick, got %q", content)
	}
}

func TestActivePlayerCannotRespond(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()
	s, active := startedGame(t, e, "r1", "p1", "p2", "p3")
	e.FinishTurn(ctx, "r1", active)

	events, err := e.Respond(ctx, "r1", active, "self answer")
	if err != nil || events != nil {
		t.Fatalf("respond by active player should be dropped, got %v (err=%v)", events, err)
	}
	answers, _ := s.Answers(ctx)
	if len(answers) != 0 {
		t.Fatalf("no answer should be stored, got %d", len(answers))
	}
}

func TestConcurrentLastSubmittersAdvanceOnce(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringAuto, RotationSequential))
	defer e.Close()
	s, active := startedGame(t, e, "r1", "p1", "p2", "p3")
	e.FinishTurn(ctx, "r1", active)
	firstRound, _ := s.Round(ctx)

	responders := make([]string, 0, 2)
	for _, id := range []string{"p1", "p2", "p3"} {
		if id != active {
			responders = append(responders, id)
		}
	}

	var wg sync.WaitGroup
	results := make([][]Event, 2)
	for i, id := range responders {
		wg.Add(1)
		go func(ix int, actor string) {
			defer wg.Done()
			events, err := e.Respond(ctx, "r1", actor, "answer by "+actor)
			if err != nil {
				t.Errorf("respond failed: %v", err)
			}
			results[ix] = events
		}(i, id)
	}
	wg.Wait()

	resolves := 0
	for _, events := range results {
		for _, ev := range events {
			if ev.Name == EventStateChange {
				if payload, ok := ev.Payload.(map[string]any); ok && payload["phase"] == PhaseResolve {
					resolves++
				}
			}
		}
	}
	if resolves != 1 {
		t.Fatalf("exactly one submitter should win the resolve transition, got %d", resolves)
	}

	// The round advanced exactly once: new round identity, back in a turn.
	round, _ := s.Round(ctx)
	if round == firstRound {
		t.Fatal("round identity should have changed")
	}
	if phase, _ := s.Phase(ctx); phase != PhaseTurn {
		t.Fatalf("expected next round's %s, got %s", PhaseTurn, phase)
	}
	if played, _ := s.Played(ctx); len(played) != 2 {
		t.Fatalf("expected two players to have acted, got %v", played)
	}
}

func TestVotingRound(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()
	s, active := startedGame(t, e, "r1", "p1", "p2", "p3")
	e.FinishTurn(ctx, "r1", active)

	responders := make([]string, 0, 2)
	for _, id := range []string{"p1", "p2", "p3"} {
		if id != active {
			responders = append(responders, id)
		}
	}
	e.Respond(ctx, "r1", responders[0], "guess one")
	events, err := e.Respond(ctx, "r1", responders[1], "guess two")
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	// All answers in: resolve with the choices sent to the active player.
	if phase, _ := s.Phase(ctx); phase != PhaseResolve {
		t.Fatalf("expected %s once everyone answered, got %s", PhaseResolve, phase)
	}
	choices, ok := findEvent(events, EventNextStep)
	if !ok || choices.Scope.ID != active {
		t.Fatal("the active player should receive the answers to vote on")
	}
	answersIn, ok := findEvent(events, EventAnswersIn)
	if !ok {
		t.Fatal("resolve should broadcast answers_in")
	}
	authors := answersIn.Payload.(map[string]string)
	var target string
	for id, author := range authors {
		if author == responders[0] {
			target = id
		}
	}
	if target == "" {
		t.Fatalf("no answer found for %s in %v", responders[0], authors)
	}

	// A vote from a non-active participant is dropped without effect.
	events, err = e.Vote(ctx, "r1", responders[1], target)
	if err != nil || events != nil {
		t.Fatalf("vote by non-active should be dropped, got %v (err=%v)", events, err)
	}
	if score, _ := NewPlayer(e.st, responders[0]).Score(ctx); score != 0 {
		t.Fatalf("dropped vote must not credit score, got %d", score)
	}

	// A vote for an unknown answer is dropped too.
	if events, _ := e.Vote(ctx, "r1", active, "bogus"); events != nil {
		t.Fatal("vote for unknown answer should be dropped")
	}

	// The active player's vote credits the author and relays the winning
	// content as the next round's prompt.
	events, err = e.Vote(ctx, "r1", active, target)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if score, _ := NewPlayer(e.st, responders[0]).Score(ctx); score != 1 {
		t.Fatalf("winner's author should have 1 point, got %d", score)
	}
	winners, _ := s.Winners(ctx)
	if len(winners) != 1 || winners[0] != target {
		t.Fatalf("expected winner %s, got %v", target, winners)
	}
	if phase, _ := s.Phase(ctx); phase != PhaseTurn {
		t.Fatalf("vote should advance the round, got %s", phase)
	}
	if prompt, _ := s.Prompt(ctx); prompt != "guess one" {
		t.Fatalf("winning content should seed the next prompt, got %q", prompt)
	}
	if kind, _ := s.Kind(ctx); kind != KindPhrase {
		t.Fatalf("content kind should alternate, got %s", kind)
	}
	if _, ok := findEvent(events, EventNextStep); !ok {
		t.Fatal("the next active player should receive the relayed prompt")
	}
}

func TestTwoPlayerSequentialGame(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringAuto, RotationSequential))
	defer e.Close()
	s, active := startedGame(t, e, "r1", "p1", "p2")
	other := "p1"
	if active == "p1" {
		other = "p2"
	}

	// Round 1: the only non-active member answers, the round resolves and
	// rotation hands the turn to them.
	e.FinishTurn(ctx, "r1", active)
	events, err := e.Respond(ctx, "r1", other, "cat")
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if countEvents(events, EventGameEnd) != 0 {
		t.Fatal("game should not end while a member has not acted")
	}
	if current, _ := s.Current(ctx); current != other {
		t.Fatalf("expected %s to act next, got %s", other, current)
	}

	// Round 2: both members have now held the turn, so resolution finds no
	// eligible next actor and the game ends.
	e.FinishTurn(ctx, "r1", other)
	events, err = e.Respond(ctx, "r1", active, "dog")
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	end, ok := findEvent(events, EventGameEnd)
	if !ok {
		t.Fatal("expected game_end once everyone has acted")
	}
	if end.Scope.Kind != ScopeRoom {
		t.Fatal("game_end should be room-scoped")
	}
	if phase, _ := s.Phase(ctx); phase != PhaseEnd {
		t.Fatalf("expected %s, got %s", PhaseEnd, phase)
	}
	scores := end.Payload.(map[string]any)["scores"].(map[string]int64)
	if scores[active] != 1 || scores[other] != 1 {
		t.Fatalf("each author should have one auto-scored point, got %v", scores)
	}
}

func TestSequentialRotationExhaustsEligibleSet(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringAuto, RotationSequential))
	defer e.Close()
	players := []string{"p1", "p2", "p3", "p4"}
	s, _ := startedGame(t, e, "r1", players...)

	ended := false
	for i := 0; i < len(players) && !ended; i++ {
		active, _ := s.Current(ctx)
		e.FinishTurn(ctx, "r1", active)
		for _, id := range players {
			if id == active {
				continue
			}
			events, err := e.Respond(ctx, "r1", id, "answer from "+id)
			if err != nil {
				t.Fatalf("respond failed: %v", err)
			}
			if _, ok := findEvent(events, EventGameEnd); ok {
				ended = true
			}
		}
	}

	if !ended {
		t.Fatal("game should end once every member has held the turn")
	}
	played, _ := s.Played(ctx)
	if len(played) != len(players) {
		t.Fatalf("every player should have acted exactly once, got %v", played)
	}
	if phase, _ := s.Phase(ctx); phase != PhaseEnd {
		t.Fatalf("expected %s, got %s", PhaseEnd, phase)
	}
}

func TestRepeatingRotationKeepsGoing(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringAuto, RotationRepeating))
	defer e.Close()
	s, first := startedGame(t, e, "r1", "p1", "p2")
	second := "p1"
	if first == "p1" {
		second = "p2"
	}

	e.FinishTurn(ctx, "r1", first)
	e.Respond(ctx, "r1", second, "round one")
	if current, _ := s.Current(ctx); current != second {
		t.Fatalf("turn should pass to the other member, got %s", current)
	}

	e.FinishTurn(ctx, "r1", second)
	events, err := e.Respond(ctx, "r1", first, "round two")
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if _, ok := findEvent(events, EventGameEnd); ok {
		t.Fatal("repeating rotation should not exhaust with two members")
	}
	if current, _ := s.Current(ctx); current != first {
		t.Fatalf("turn should pass back, got %s", current)
	}
}

func TestLeaveShrinksMembership(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()

	e.Join(ctx, "r1", "p1", "alice")
	e.Join(ctx, "r1", "p2", "bob")
	events, err := e.Leave(ctx, "r1", "p2")
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	update, ok := findEvent(events, EventPlayersUpdate)
	if !ok {
		t.Fatal("leave should broadcast players_update")
	}
	names := update.Payload.(map[string]string)
	if len(names) != 1 || names["p1"] != "alice" {
		t.Fatalf("unexpected name map after leave: %v", names)
	}
	if name, _ := NewPlayer(e.st, "p2").Name(ctx); name != "" {
		t.Fatal("leaver's fields should be cleared")
	}
}

func TestTurnTimerAdvancesToCollect(t *testing.T) {
	ctx := context.Background()
	rules := quietRules(ScoringVote, RotationSequential)
	rules.DrawTime = 20 * time.Millisecond
	e := New(store.NewMemory(), fixedPool("prompt"), rules)
	defer e.Close()

	var mu sync.Mutex
	var async []Event
	e.SetSink(func(events []Event) {
		mu.Lock()
		defer mu.Unlock()
		async = append(async, events...)
	})

	s, _ := startedGame(t, e, "r1", "p1", "p2")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if phase, _ := s.Phase(ctx); phase == PhaseCollect {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("turn timer did not advance the phase")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, ok := findEvent(async, EventStateChange); !ok {
		t.Fatal("timer-driven transition should emit through the sink")
	}
}

func TestCollectTimerResolvesPartialRound(t *testing.T) {
	ctx := context.Background()
	rules := quietRules(ScoringVote, RotationSequential)
	rules.CollectTime = 20 * time.Millisecond
	e := New(store.NewMemory(), fixedPool("prompt"), rules)
	defer e.Close()
	e.SetSink(func([]Event) {})

	s, active := startedGame(t, e, "r1", "p1", "p2", "p3")
	e.FinishTurn(ctx, "r1", active)

	responder := "p1"
	if active == "p1" {
		responder = "p2"
	}
	e.Respond(ctx, "r1", responder, "only answer")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if phase, _ := s.Phase(ctx); phase == PhaseResolve {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("collect timer did not resolve the round")
		}
		time.Sleep(5 * time.Millisecond)
	}

	answers, _ := s.Answers(ctx)
	if len(answers) != 1 {
		t.Fatalf("partial round should keep its single answer, got %d", len(answers))
	}
}

func TestVoteTimerAdvancesWithoutWinner(t *testing.T) {
	ctx := context.Background()
	rules := quietRules(ScoringVote, RotationSequential)
	rules.VoteTime = 20 * time.Millisecond
	e := New(store.NewMemory(), fixedPool("prompt"), rules)
	defer e.Close()
	e.SetSink(func([]Event) {})

	s, active := startedGame(t, e, "r1", "p1", "p2")
	other := "p1"
	if active == "p1" {
		other = "p2"
	}
	e.FinishTurn(ctx, "r1", active)
	e.Respond(ctx, "r1", other, "unvoted answer")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if phase, _ := s.Phase(ctx); phase != PhaseResolve {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("vote timer did not advance the round")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if score, _ := NewPlayer(e.st, other).Score(ctx); score != 0 {
		t.Fatalf("an expired vote window must not credit anyone, got %d", score)
	}
	winners, _ := s.Winners(ctx)
	if len(winners) != 0 {
		t.Fatalf("no winner should be recorded, got %v", winners)
	}
}

func TestStaleTimerIsNoop(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), fixedPool("prompt"), quietRules(ScoringVote, RotationSequential))
	defer e.Close()

	fired := 0
	e.SetSink(func([]Event) { fired++ })

	s, active := startedGame(t, e, "r1", "p1", "p2")
	round, _ := s.Round(ctx)
	e.FinishTurn(ctx, "r1", active)

	// The turn already ended by player action; a late turn expiry for the
	// same round and one for a bogus round must both do nothing.
	e.expireTurn("r1", round)
	e.expireTurn("r1", "bogus-round")

	if phase, _ := s.Phase(ctx); phase != PhaseCollect {
		t.Fatalf("stale timer must not move the phase, got %s", phase)
	}
	if fired != 0 {
		t.Fatalf("stale timer must not emit events, got %d emissions", fired)
	}
}
