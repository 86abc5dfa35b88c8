// Package prompts supplies the round prompt pool. The pool is fetched once
// at process start from a subreddit's top listing and is read-only afterward.
package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
)

const DefaultBaseURL = "https://www.reddit.com"

// Pool is an immutable in-memory set of candidate prompt strings.
type Pool struct {
	titles []string
}

func NewPool(titles []string) *Pool {
	return &Pool{titles: titles}
}

// Random draws one prompt uniformly at random.
func (p *Pool) Random() string {
	return p.titles[rand.Intn(len(p.titles))]
}

func (p *Pool) Size() int {
	return len(p.titles)
}

// listing is the shape of reddit's public listing endpoint, reduced to the
// fields we read.
type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title string `json:"title"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchTop builds a pool from the titles of a subreddit's top posts for the
// given time window ("day", "week", ...).
func FetchTop(ctx context.Context, client *http.Client, baseURL, subreddit, window string, limit int) (*Pool, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u := fmt.Sprintf("%s/r/%s/top.json?t=%s&limit=%d", baseURL, url.PathEscape(subreddit), url.QueryEscape(window), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	// reddit rejects default Go user agents.
	req.Header.Set("User-Agent", "sketchrelay/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prompt fetch: unexpected status %s", resp.Status)
	}

	var body listing
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("prompt fetch: %w", err)
	}
	titles := make([]string, 0, len(body.Data.Children))
	for _, child := range body.Data.Children {
		if child.Data.Title != "" {
			titles = append(titles, child.Data.Title)
		}
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("prompt fetch: r/%s returned no titles", subreddit)
	}
	return NewPool(titles), nil
}
