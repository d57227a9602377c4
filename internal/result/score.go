package result

import "github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"

// Score computes correctness and points for a host-first answer pair. A
// player is correct when their guess matches the opponent's claim; an unset
// guess is never correct. Each player earns a point for being correct and a
// point for the opponent being wrong.
func Score(host, other battle.SubmitAnswer) (correct [2]bool, scores [2]int) {
	answers := [2]battle.SubmitAnswer{host, other}
	for i := 0; i < 2; i++ {
		g := answers[i].Guess
		correct[i] = g != nil && *g == answers[1-i].ClaimedIdentity
	}
	for i := 0; i < 2; i++ {
		scores[i] = b2i(correct[i]) + b2i(!correct[1-i])
	}
	return correct, scores
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
