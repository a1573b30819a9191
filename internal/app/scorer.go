package app

import (
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

type responseKey struct {
	index    int
	identity string
}

// collector holds the accepted responses of one session. At most one
// response is kept per (question index, identity); later ones are rejected.
type collector struct {
	accepted map[responseKey]domain.StudentResponse
	ordered  []domain.StudentResponse
}

func newCollector() *collector {
	return &collector{accepted: make(map[responseKey]domain.StudentResponse)}
}

func (c *collector) accept(resp domain.StudentResponse) error {
	key := responseKey{index: resp.QuestionIndex, identity: resp.Identity}
	if _, ok := c.accepted[key]; ok {
		return domain.ErrDuplicate
	}
	c.accepted[key] = resp
	c.ordered = append(c.ordered, resp)
	return nil
}

func (c *collector) lookup(index int, identity string) (domain.StudentResponse, bool) {
	resp, ok := c.accepted[responseKey{index: index, identity: identity}]
	return resp, ok
}

func (c *collector) forQuestion(index int) []domain.StudentResponse {
	var out []domain.StudentResponse
	for _, resp := range c.ordered {
		if resp.QuestionIndex == index {
			out = append(out, resp)
		}
	}
	return out
}

func (c *collector) all() []domain.StudentResponse {
	out := make([]domain.StudentResponse, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Award returns the points a response earns within its question window.
// Correct answers score base at the open instant, falling linearly to
// base/2 just before the deadline. Wrong or late answers score zero.
func Award(window domain.QuestionWindow, resp domain.StudentResponse) (bool, int) {
	if resp.Choice != window.CorrectChoice {
		return false, 0
	}
	limit := window.Deadline.Sub(window.OpenedAt)
	if limit <= 0 || !resp.SubmittedAt.Before(window.Deadline) {
		return true, 0
	}
	if !window.ClosedAt.IsZero() && resp.SubmittedAt.After(window.ClosedAt) {
		return true, 0
	}
	elapsed := resp.SubmittedAt.Sub(window.OpenedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	base := int64(window.BasePoints)
	awarded := base - base*elapsed.Milliseconds()/(2*limit.Milliseconds())
	return true, int(awarded)
}

// ScoreQuestion finalizes one question. Results follow the order of
// participants; respondents missing from that list are appended.
func ScoreQuestion(window domain.QuestionWindow, responses []domain.StudentResponse, participants []string) []domain.QuestionResult {
	byIdentity := make(map[string]domain.StudentResponse, len(responses))
	for _, resp := range responses {
		if resp.QuestionIndex != window.Index {
			continue
		}
		byIdentity[resp.Identity] = resp
	}

	results := make([]domain.QuestionResult, 0, len(participants))
	seen := make(map[string]bool, len(participants))
	for _, identity := range participants {
		seen[identity] = true
		results = append(results, resultFor(window, identity, byIdentity))
	}

	var extra []string
	for identity := range byIdentity {
		if !seen[identity] {
			extra = append(extra, identity)
		}
	}
	sort.Strings(extra)
	for _, identity := range extra {
		results = append(results, resultFor(window, identity, byIdentity))
	}
	return results
}

func resultFor(window domain.QuestionWindow, identity string, byIdentity map[string]domain.StudentResponse) domain.QuestionResult {
	resp, ok := byIdentity[identity]
	if !ok {
		return domain.QuestionResult{Identity: identity}
	}
	correct, awarded := Award(window, resp)
	return domain.QuestionResult{
		Identity: identity,
		Answered: true,
		Choice:   resp.Choice,
		Correct:  correct,
		Awarded:  awarded,
	}
}

// Rescore recomputes every participant's total from stored windows and
// responses alone.
func Rescore(windows []domain.QuestionWindow, responses []domain.StudentResponse, participants []string) map[string]int {
	totals := make(map[string]int, len(participants))
	for _, identity := range participants {
		totals[identity] = 0
	}
	for _, window := range windows {
		for _, result := range ScoreQuestion(window, responses, participants) {
			totals[result.Identity] += result.Awarded
		}
	}
	return totals
}

// remaining is the client-visible time left before deadline.
func remaining(deadline, now time.Time) time.Duration {
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
