// Package recall provides the semantic recall client: a best-effort memory
// of past task outcomes that retry supervision consults for context. Recall
// failures never fail the caller; a task executes fine without memory, just
// with less context.
package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NoContextSummary is returned when recall has nothing relevant or is
// unavailable. Callers embed it verbatim so agents see a consistent signal.
const NoContextSummary = "no similar tasks found"

// maxRecordsPerAgent bounds the per-agent history list in Redis.
const maxRecordsPerAgent = 200

// Record is one remembered task outcome.
type Record struct {
	ProjectID string    `json:"project_id"`
	TaskKey   string    `json:"task_key"`
	AgentName string    `json:"agent_name"`
	Title     string    `json:"title"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
}

// Client is the semantic recall interface. Implementations must be safe for
// concurrent use and must never block task execution on recall failures.
type Client interface {
	// RelevantContext returns a short summary of past outcomes similar to
	// the given task description, or NoContextSummary.
	RelevantContext(ctx context.Context, agentName, description string) string
	// Store remembers a task outcome. Errors are logged and swallowed.
	Store(ctx context.Context, rec Record)
	Close() error
}

// RedisClient keeps recall records in per-agent Redis lists.
type RedisClient struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisClient creates a recall client against the given Redis address.
func NewRedisClient(addr string, logger *slog.Logger) *RedisClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisClient{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		logger: logger,
	}
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func agentKey(agentName string) string {
	return fmt.Sprintf("forge:recall:%s", agentName)
}

// Store pushes the record onto the agent's history list, trimming it to the
// retention bound. Failures are logged, never returned.
func (c *RedisClient) Store(ctx context.Context, rec Record) {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("recall: failed to marshal record",
			"task", rec.TaskKey, "error", err)
		return
	}

	key := agentKey(rec.AgentName)
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxRecordsPerAgent-1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("recall: failed to store record",
			"task", rec.TaskKey, "error", err)
	}
}

// RelevantContext scores the agent's remembered outcomes by keyword overlap
// with the description and summarizes the best matches. Any failure yields
// NoContextSummary.
func (c *RedisClient) RelevantContext(ctx context.Context, agentName, description string) string {
	raw, err := c.rdb.LRange(ctx, agentKey(agentName), 0, maxRecordsPerAgent-1).Result()
	if err != nil {
		c.logger.Warn("recall: lookup failed", "agent", agentName, "error", err)
		return NoContextSummary
	}
	if len(raw) == 0 {
		return NoContextSummary
	}

	want := keywords(description)
	if len(want) == 0 {
		return NoContextSummary
	}

	type scored struct {
		rec   Record
		score int
	}
	var matches []scored
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		s := overlap(want, keywords(rec.Title+" "+rec.Summary+" "+rec.Error))
		if s > 0 {
			matches = append(matches, scored{rec: rec, score: s})
		}
	}
	if len(matches) == 0 {
		return NoContextSummary
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > 3 {
		matches = matches[:3]
	}

	var b strings.Builder
	b.WriteString("similar past tasks:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s (%s): %s", m.rec.Title, m.rec.Outcome, m.rec.Summary)
		if m.rec.Error != "" {
			fmt.Fprintf(&b, " [error: %s]", m.rec.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// keywords lowercases and splits text, dropping short stop-ish words.
func keywords(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) >= 3 {
			set[w] = true
		}
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// NopClient is a recall client that remembers nothing. Used when recall is
// disabled in config.
type NopClient struct{}

// NewNopClient creates a no-op recall client.
func NewNopClient() *NopClient { return &NopClient{} }

// RelevantContext always reports no matches.
func (c *NopClient) RelevantContext(ctx context.Context, agentName, description string) string {
	return NoContextSummary
}

// Store does nothing.
func (c *NopClient) Store(ctx context.Context, rec Record) {}

// Close does nothing.
func (c *NopClient) Close() error { return nil }
