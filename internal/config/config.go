package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	RedisURL     string
	Subreddit    string
	PromptWindow string
	PromptLimit  int

	Rotation string
	Scoring  string

	DrawTime    time.Duration
	WriteTime   time.Duration
	CollectTime time.Duration
	VoteTime    time.Duration
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "5000")
	c.RedisURL = getenv("REDIS_URL", "redis://localhost:6379")
	c.Subreddit = getenv("SUBREDDIT", "tifu")
	c.PromptWindow = getenv("PROMPT_WINDOW", "week")
	c.PromptLimit = getint("PROMPT_LIMIT", 100)
	c.Rotation = getenv("ROTATION", "sequential")
	c.Scoring = getenv("SCORING", "vote")
	c.DrawTime = getseconds("DRAW_SECONDS", 45)
	c.WriteTime = getseconds("WRITE_SECONDS", 30)
	c.CollectTime = getseconds("COLLECT_SECONDS", 60)
	c.VoteTime = getseconds("VOTE_SECONDS", 30)
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getseconds(k string, def int) time.Duration {
	return time.Duration(getint(k, def)) * time.Second
}
