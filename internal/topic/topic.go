// Package topic picks the conversation topic for a starting room: an LLM
// chat-completions call, with the message catalog as fallback.
package topic

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/msgcat"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/rpcfast"
)

var ErrNoTopic = errors.New("topic: generator returned no topic")

const maxTopicLen = 200

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// LLM calls an OpenAI-compatible /chat/completions endpoint.
type LLM struct {
	client *rpcfast.Client
	model  string
	cat    *msgcat.Catalog
}

func NewLLM(baseURL, apiKey, model string, cat *msgcat.Catalog, timeout time.Duration) *LLM {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	key := strings.TrimSpace(apiKey)
	client := rpcfast.NewClient(baseURL,
		rpcfast.WithTimeout(timeout),
		rpcfast.WithRetry(2),
		rpcfast.WithHeaderProvider(func() map[string]string {
			return map[string]string{"Authorization": "Bearer " + key}
		}),
	)
	return &LLM{client: client, model: model, cat: cat}
}

func (g *LLM) Generate(ctx context.Context, rules battle.Rules) (string, error) {
	prompt, err := g.cat.Render(msgcat.KeyTopicPrompt, map[string]any{
		"MaxTurn":    rules.MaxTurn,
		"BattleType": rules.BattleType,
	})
	if err != nil {
		return "", err
	}
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: g.cat.Text(msgcat.KeyTopicSystemRole)},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   64,
		Temperature: 0.9,
	}
	var resp chatResponse
	if err := g.client.DoJSON(ctx, fasthttp.MethodPost, "/chat/completions", req, &resp, true); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoTopic
	}
	t := clean(resp.Choices[0].Message.Content)
	if t == "" {
		return "", ErrNoTopic
	}
	return t, nil
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "\"'“”「」")
	if len(s) > maxTopicLen {
		n := maxTopicLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.TrimSpace(s)
}

// Catalog draws a random topic from the catalog's topic list.
type Catalog struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	topics []string
}

func NewCatalog(cat *msgcat.Catalog, seed int64) *Catalog {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &Catalog{rnd: rand.New(rand.NewSource(seed)), topics: cat.Strings(msgcat.KeyTopics)}
}

func (c *Catalog) Generate(context.Context, battle.Rules) (string, error) {
	if len(c.topics) == 0 {
		return "", ErrNoTopic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[c.rnd.Intn(len(c.topics))], nil
}

// Fallback tries Primary and uses Secondary on any error.
type Fallback struct {
	Primary   battle.TopicSource
	Secondary battle.TopicSource
}

func (f Fallback) Generate(ctx context.Context, rules battle.Rules) (string, error) {
	if f.Primary != nil {
		t, err := f.Primary.Generate(ctx, rules)
		if err == nil && strings.TrimSpace(t) != "" {
			return t, nil
		}
		obslog.L().Warn("topic_primary_failed", zap.Error(err))
	}
	if f.Secondary == nil {
		return "", ErrNoTopic
	}
	// the primary may have used up the caller's deadline
	return f.Secondary.Generate(context.WithoutCancel(ctx), rules)
}
