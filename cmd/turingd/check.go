package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/api"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingclient"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

func newCheckCmd() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Play one full game against a running server with two guest players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runCheck(ctx, cmd.OutOrStdout(), baseURL, api.NewAuthenticator(cfg.JWTSecret))
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

type checkPlayer struct {
	id     string
	client *turingclient.Client
}

func newCheckPlayer(auth *api.Authenticator, baseURL, label string) (*checkPlayer, error) {
	id := "check-" + label + "-" + uuid.NewString()[:8]
	tok, err := auth.Mint(id, id, true, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return &checkPlayer{id: id, client: turingclient.New(baseURL, tok)}, nil
}

func runCheck(ctx context.Context, w io.Writer, baseURL string, auth *api.Authenticator) error {
	host, err := newCheckPlayer(auth, baseURL, "host")
	if err != nil {
		return err
	}
	guest, err := newCheckPlayer(auth, baseURL, "guest")
	if err != nil {
		return err
	}

	first, err := host.client.RequestMatch(ctx, turingdto.RequestMatchRequest{ID: host.id})
	if err != nil {
		return fmt.Errorf("host requestMatch: %w", err)
	}
	if first.StartBattle {
		// someone else was waiting; leave their game alone
		return fmt.Errorf("host joined an existing room %s, retry on an idle server", first.RoomID)
	}
	fmt.Fprintf(w, "host waiting in %s\n", first.RoomID)

	events, err := host.client.Subscribe(ctx, first.RoomID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	second, err := guest.client.FindOpponent(ctx, turingdto.RequestMatchRequest{ID: guest.id}, 5*time.Second)
	if err != nil {
		return fmt.Errorf("guest findOpponent: %w", err)
	}
	if second.RoomID != first.RoomID {
		return fmt.Errorf("guest matched into %s, want %s", second.RoomID, first.RoomID)
	}
	if err := waitEvent(ctx, events, notify.EventJoined); err != nil {
		return err
	}
	fmt.Fprintf(w, "guest joined, event stream ok\n")

	view, err := host.client.GetRoom(ctx, first.RoomID)
	if err != nil {
		return fmt.Errorf("getRoom: %w", err)
	}
	players := []*checkPlayer{host, guest}
	for turn := 1; turn <= view.MaxTurn; turn++ {
		from, to := players[(turn-1)%2], players[turn%2]
		_, err := from.client.PostMessage(ctx, turingdto.PostMessageRequest{
			RoomID:             first.RoomID,
			Text:               fmt.Sprintf("turn %d", turn),
			NextTurn:           turn + 1,
			NextActivePlayerID: to.id,
		})
		if err != nil {
			return fmt.Errorf("postMessage turn %d: %w", turn, err)
		}
	}
	fmt.Fprintf(w, "chat done after %d turns\n", view.MaxTurn)

	yes := true
	if _, err := host.client.SubmitAnswer(ctx, turingdto.SubmitAnswerRequest{RoomID: first.RoomID, ClaimedIdentity: true, Guess: &yes}); err != nil {
		return fmt.Errorf("host submitAnswer: %w", err)
	}
	ans, err := guest.client.SubmitAnswer(ctx, turingdto.SubmitAnswerRequest{RoomID: first.RoomID, ClaimedIdentity: true, Guess: &yes})
	if err != nil {
		return fmt.Errorf("guest submitAnswer: %w", err)
	}
	res := ans.Result
	if res == nil {
		if res, err = guest.client.CalculateResult(ctx, first.RoomID); err != nil {
			return fmt.Errorf("calculateResult: %w", err)
		}
	}
	if res == nil {
		return fmt.Errorf("no result for %s", first.RoomID)
	}
	fmt.Fprintf(w, "result: correct=%v scores=%v\n", res.CorrectFlags, res.Scores)
	return nil
}

func waitEvent(ctx context.Context, events <-chan turingdto.RoomEvent, typ string) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed before %s", typ)
			}
			if ev.Type == typ {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", typ, ctx.Err())
		}
	}
}
