package app

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"live-quiz-service/internal/domain"
)

// auditEncMode uses Core Deterministic Encoding so the same scored
// session always hashes to the same digest.
var auditEncMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeUnixMicro
	var err error
	auditEncMode, err = opts.EncMode()
	if err != nil {
		panic("app: audit encoder initialization failed: " + err.Error())
	}
}

type auditScore struct {
	Identity string `cbor:"identity"`
	Score    int    `cbor:"score"`
}

type auditDocument struct {
	SessionID string                   `cbor:"sessionId"`
	Windows   []domain.QuestionWindow  `cbor:"windows"`
	Responses []domain.StudentResponse `cbor:"responses"`
	Scores    []auditScore             `cbor:"scores"`
}

// Digest hashes a session's windows, responses and totals. Inputs are
// sorted first, so arrival order does not change the result.
func Digest(sessionID string, windows []domain.QuestionWindow, responses []domain.StudentResponse, totals map[string]int) (string, error) {
	doc := auditDocument{
		SessionID: sessionID,
		Windows:   append([]domain.QuestionWindow(nil), windows...),
		Responses: append([]domain.StudentResponse(nil), responses...),
	}
	sort.Slice(doc.Windows, func(i, j int) bool { return doc.Windows[i].Index < doc.Windows[j].Index })
	sort.Slice(doc.Responses, func(i, j int) bool {
		a, b := doc.Responses[i], doc.Responses[j]
		if a.QuestionIndex != b.QuestionIndex {
			return a.QuestionIndex < b.QuestionIndex
		}
		return a.Identity < b.Identity
	})
	for identity, score := range totals {
		doc.Scores = append(doc.Scores, auditScore{Identity: identity, Score: score})
	}
	sort.Slice(doc.Scores, func(i, j int) bool { return doc.Scores[i].Identity < doc.Scores[j].Identity })

	data, err := auditEncMode.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode audit document: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyRecord recomputes totals and digest from a stored record and
// reports whether they match what was persisted.
func VerifyRecord(rec domain.SessionRecord, responses []domain.StudentResponse) (bool, error) {
	participants := make([]string, 0, len(rec.Leaderboard))
	for _, entry := range rec.Leaderboard {
		participants = append(participants, entry.Identity)
	}
	totals := Rescore(rec.Windows, responses, participants)
	for _, entry := range rec.Leaderboard {
		if totals[entry.Identity] != entry.Score {
			return false, nil
		}
	}
	digest, err := Digest(rec.ID, rec.Windows, responses, totals)
	if err != nil {
		return false, err
	}
	return digest == rec.Digest, nil
}
