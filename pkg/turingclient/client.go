// Package turingclient calls a turingd server: the matchmaking and room
// callables, plus a WebSocket subscription to room events.
package turingclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/rpcfast"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

// ErrNoOpponent is returned when matchmaking gave up.
var ErrNoOpponent = errors.New("could not find an opponent")

// CallError is a callable that answered with an error body.
type CallError struct {
	Status int
	turingdto.DomainError
}

func (e *CallError) Error() string {
	return fmt.Sprintf("turingd %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports server-side failures and contention.
func (e *CallError) Retryable() bool {
	return e.DomainError.Retryable || e.Status >= 500
}

type Client struct {
	rpc      *rpcfast.Client
	baseURL  string
	token    string
	attempts int
	poll     time.Duration

	maxReconnects int
}

type Option func(*Client)

// WithAttempts bounds requestMatch retries in FindOpponent.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithPollInterval sets how often FindOpponent checks a waiting room.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithMaxReconnects bounds WebSocket redials per subscription.
func WithMaxReconnects(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         strings.TrimSpace(token),
		attempts:      5,
		poll:          500 * time.Millisecond,
		maxReconnects: 5,
	}
	for _, o := range opts {
		o(c)
	}
	c.rpc = rpcfast.NewClient(c.baseURL,
		rpcfast.WithTimeout(10*time.Second),
		rpcfast.WithRetry(3),
		rpcfast.WithHeaderProvider(c.headers),
	)
	return c
}

func (c *Client) headers() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.token}
}

func (c *Client) httpHeader() http.Header {
	h := http.Header{}
	for k, v := range c.headers() {
		h.Set(k, v)
	}
	return h
}

// call wraps in as {"data": in} and decodes "result" into out. Transport
// errors and 5xx replies are retried by rpcfast.
func (c *Client) call(ctx context.Context, name string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	var resp turingdto.CallResponse
	err = c.rpc.DoJSON(ctx, http.MethodPost, "/rpc/"+name, turingdto.CallRequest{Data: raw}, &resp, true)
	if err != nil {
		var se *rpcfast.StatusError
		if errors.As(err, &se) {
			var body turingdto.CallResponse
			if json.Unmarshal(se.Body, &body) == nil && body.Error != nil {
				return &CallError{Status: se.Status, DomainError: *body.Error}
			}
		}
		return err
	}
	if resp.Error != nil {
		return &CallError{Status: http.StatusOK, DomainError: *resp.Error}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (c *Client) RequestMatch(ctx context.Context, req turingdto.RequestMatchRequest) (*turingdto.RequestMatchResponse, error) {
	var out turingdto.RequestMatchResponse
	if err := c.call(ctx, "requestMatch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelMatch(ctx context.Context) (string, error) {
	var out turingdto.CancelMatchResponse
	if err := c.call(ctx, "cancelMatch", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// CalculateResult asks the server to finalise roomID. Callers that only
// trigger finalisation may ignore the returned result.
func (c *Client) CalculateResult(ctx context.Context, roomID string) (*turingdto.ResultView, error) {
	var out turingdto.CalculateResultResponse
	if err := c.call(ctx, "calculateResult", turingdto.RoomRequest{RoomID: roomID}, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *Client) PostMessage(ctx context.Context, req turingdto.PostMessageRequest) (*turingdto.PostMessageResponse, error) {
	var out turingdto.PostMessageResponse
	if err := c.call(ctx, "postMessage", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, req turingdto.SubmitAnswerRequest) (*turingdto.SubmitAnswerResponse, error) {
	var out turingdto.SubmitAnswerResponse
	if err := c.call(ctx, "submitAnswer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (*turingdto.RoomView, error) {
	var out turingdto.RoomView
	if err := c.call(ctx, "getRoom", turingdto.RoomRequest{RoomID: roomID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func retryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	var se *rpcfast.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// transport failures
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// FindOpponent requests a match and, when the server put the caller in a
// waiting room, waits up to wait for someone to join. Retryable failures are
// retried with exponential backoff. When no opponent shows up the request is
// cancelled and ErrNoOpponent returned.
func (c *Client) FindOpponent(ctx context.Context, req turingdto.RequestMatchRequest, wait time.Duration) (*turingdto.RequestMatchResponse, error) {
	var (
		out *turingdto.RequestMatchResponse
		err error
	)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		out, err = c.RequestMatch(ctx, req)
		if err == nil || !retryable(err) {
			break
		}
		if attempt == c.attempts {
			return nil, fmt.Errorf("%w: %v", ErrNoOpponent, err)
		}
		if serr := rpcfast.SleepWithContext(ctx, rpcfast.Backoff(attempt)); serr != nil {
			return nil, serr
		}
	}
	if err != nil {
		return nil, err
	}
	if out.StartBattle {
		return out, nil
	}

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		view, err := c.GetRoom(wctx, out.RoomID)
		switch {
		case err == nil && view.Status != "waiting":
			out.StartBattle = true
			return out, nil
		case err != nil && !retryable(err) && wctx.Err() == nil:
			return nil, err
		}
		if rpcfast.SleepWithContext(wctx, c.poll) != nil {
			break
		}
	}

	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer ccancel()
	if _, err := c.CancelMatch(cctx); err != nil {
		return nil, fmt.Errorf("%w (cancel failed: %v)", ErrNoOpponent, err)
	}
	// an opponent may have joined just before the cancel; started rooms survive it
	if view, err := c.GetRoom(cctx, out.RoomID); err == nil && view.Status != "waiting" {
		out.StartBattle = true
		return out, nil
	}
	return nil, ErrNoOpponent
}
