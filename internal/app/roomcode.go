package app

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"live-quiz-service/internal/domain"
)

// CodeLength is the number of characters in a room code.
const CodeLength = 5

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// rejection threshold: largest multiple of len(codeAlphabet) that fits in a byte.
const codeByteLimit = 256 - 256%len(codeAlphabet)

// CodeGenerator produces short, human-typeable room codes.
type CodeGenerator struct {
	src io.Reader
}

// NewCodeGenerator reads randomness from src, or crypto/rand when src is nil.
func NewCodeGenerator(src io.Reader) *CodeGenerator {
	if src == nil {
		src = rand.Reader
	}
	return &CodeGenerator{src: src}
}

// Next returns a fresh candidate code. Uniqueness is the registry's job.
func (g *CodeGenerator) Next() (string, error) {
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := io.ReadFull(g.src, buf); err != nil {
			return "", fmt.Errorf("read code entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= codeByteLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// NormalizeCode uppercases user input and validates the code format.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", domain.ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return "", domain.ErrInvalidCode
		}
	}
	return code, nil
}
