package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/rylo-kin/sketchrelay/internal/game"
)

// ConnCtx is the per-connection state. The connection id doubles as the
// participant id everywhere in the engine.
type ConnCtx struct {
	Room string
}

// Server translates socket events into engine calls and engine events into
// socket broadcasts. It holds no game state of its own.
type Server struct {
	engine *game.Engine
}

func New(engine *game.Engine) *Server {
	return &Server{engine: engine}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
// With a redis address the socket.io redis adapter fans room broadcasts out
// across all server processes.
func (srv *Server) Mount(r *gin.Engine, redisAddr string) *socketio.Server {
	io := socketio.NewServer(nil)

	if redisAddr != "" {
		ok, err := io.Adapter(&socketio.RedisAdapterOptions{
			Addr:   redisAddr,
			Prefix: "sketchrelay",
		})
		if err != nil || !ok {
			log.Fatal().Err(err).Msg("redis adapter unavailable")
		}
	}

	// Timer-driven transitions surface here as well.
	srv.engine.SetSink(func(events []game.Event) {
		srv.emit(io, events)
	})

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "join", func(s socketio.Conn, payload struct {
		GameID string `json:"game_id"`
		Name   string `json:"name"`
	}) {
		// The sid room makes participant-scoped events deliverable through
		// the same broadcast path as room-scoped ones.
		s.Join(payload.GameID)
		s.Join(s.ID())
		s.SetContext(&ConnCtx{Room: payload.GameID})
		log.Info().Str("sid", s.ID()).Str("room", payload.GameID).Msg("join")
		srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
			return srv.engine.Join(ctx, payload.GameID, s.ID(), payload.Name)
		})
	})

	io.OnEvent("/", "start_game", func(s socketio.Conn, payload struct {
		GameID string `json:"game_id"`
	}) {
		log.Info().Str("sid", s.ID()).Str("room", payload.GameID).Msg("start_game")
		srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
			return srv.engine.Start(ctx, payload.GameID, s.ID())
		})
	})

	io.OnEvent("/", "draw", func(s socketio.Conn, payload struct {
		GameID  string `json:"game_id"`
		Content string `json:"content"`
	}) {
		srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
			return srv.engine.Produce(ctx, payload.GameID, s.ID(), payload.Content)
		})
	})

	io.OnEvent("/", "end_turn", func(s socketio.Conn, payload struct {
		GameID string `json:"game_id"`
	}) {
		log.Info().Str("sid", s.ID()).Str("room", payload.GameID).Msg("end_turn")
		srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
			return srv.engine.FinishTurn(ctx, payload.GameID, s.ID())
		})
	})

	io.OnEvent("/", "answer", func(s socketio.Conn, payload struct {
		GameID  string `json:"game_id"`
		Content string `json:"content"`
	}) {
		log.Info().Str("sid", s.ID()).Str("room", payload.GameID).Msg("answer")
		srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
			return srv.engine.Respond(ctx, payload.GameID, s.ID(), payload.Content)
		})
	})

	io.OnEvent("/", "vote", func(s socketio.Conn, payload struct {
		GameID   string `json:"game_id"`
		AnswerID string `json:"answer_id"`
	}) {
		log.Info().Str("sid", s.ID()).Str("room", payload.GameID).Str("answerId", payload.AnswerID).Msg("vote")
		srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
			return srv.engine.Vote(ctx, payload.GameID, s.ID(), payload.AnswerID)
		})
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})

	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Room != "" {
			room := ctx.Room
			sid := s.ID()
			srv.dispatch(io, func(ctx context.Context) ([]game.Event, error) {
				return srv.engine.Leave(ctx, room, sid)
			})
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// dispatch runs an engine call and broadcasts its events. Engine calls only
// fail on store errors; dropped actions come back empty and nothing is sent,
// which is the protocol's only feedback for rejected actions.
func (srv *Server) dispatch(io *socketio.Server, call func(context.Context) ([]game.Event, error)) {
	events, err := call(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("store failure")
		return
	}
	srv.emit(io, events)
}

func (srv *Server) emit(io *socketio.Server, events []game.Event) {
	for _, ev := range events {
		io.BroadcastToRoom("/", ev.Scope.ID, ev.Name, ev.Payload)
	}
}
