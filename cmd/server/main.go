package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	"github.com/rylo-kin/sketchrelay/internal/config"
	"github.com/rylo-kin/sketchrelay/internal/game"
	"github.com/rylo-kin/sketchrelay/internal/prompts"
	"github.com/rylo-kin/sketchrelay/internal/store"
	"github.com/rylo-kin/sketchrelay/internal/ws"
	staticserver "github.com/rylo-kin/sketchrelay/static"
)

const version = "v1.0.0"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`sketchrelay - Real-time drawing/phrase relay party game

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 5000 or PORT env var)

Environment Variables:
  PORT             Port to listen on (default: 5000)
  REDIS_URL        Shared store and broadcast backbone (default: redis://localhost:6379)
  SUBREDDIT        Subreddit whose top posts seed the prompt pool (default: tifu)
  PROMPT_WINDOW    Listing window for the prompt pool (default: week)
  PROMPT_LIMIT     Number of titles to fetch (default: 100)
  ROTATION         Turn rotation: "sequential" or "repeating" (default: sequential)
  SCORING          Round scoring: "vote" or "auto" (default: vote)
  DRAW_SECONDS     Drawing turn window (default: 45)
  WRITE_SECONDS    Writing turn window (default: 30)
  COLLECT_SECONDS  Response collection window (default: 60)
  VOTE_SECONDS     Winner selection window (default: 30)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("sketchrelay %s\n", version)
		return
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.FromEnv()

	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)

	// Shared store. Every server process hosting the same rooms points at
	// the same redis; losing it is fatal, not handled per request.
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zerologlog.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		zerologlog.Fatal().Err(err).Str("addr", opt.Addr).Msg("redis unavailable")
	}

	// Prompt pool, fetched once at startup.
	fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := prompts.FetchTop(fetchCtx, nil, prompts.DefaultBaseURL, cfg.Subreddit, cfg.PromptWindow, cfg.PromptLimit)
	cancel()
	if err != nil {
		zerologlog.Fatal().Err(err).Str("subreddit", cfg.Subreddit).Msg("prompt pool fetch failed")
	}
	zerologlog.Info().Int("prompts", pool.Size()).Str("subreddit", cfg.Subreddit).Msg("prompt pool loaded")

	rules := game.DefaultRules()
	rules.Rotation = game.Rotation(cfg.Rotation)
	rules.Scoring = game.Scoring(cfg.Scoring)
	rules.DrawTime = cfg.DrawTime
	rules.WriteTime = cfg.WriteTime
	rules.CollectTime = cfg.CollectTime
	rules.VoteTime = cfg.VoteTime

	engine := game.New(store.NewRedis(client), pool, rules)
	defer engine.Close()

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		zerologlog.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})

	// Healthcheck
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	sock := ws.New(engine)
	io := sock.Mount(r, opt.Addr)
	defer io.Close()

	// Serve the embedded frontend for all other routes
	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})

	zerologlog.Info().Str("port", port).Str("version", version).Msg("listening")
	if err := r.Run(":" + port); err != nil {
		zerologlog.Fatal().Err(err).Msg("server stopped")
	}
}
