// Package ident generates store-checked identifiers for accounts and
// positions.
package ident

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"pf-ledger/internal/types"
)

const (
	letters       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	positionIDLength = 10

	// maxAttempts bounds the retry loop so an exhausted ID space surfaces as
	// an error instead of spinning forever.
	maxAttempts = 100
)

// Checker answers whether an identifier is already taken. When the caller's
// ctx carries an open transaction the check runs inside it, closing the race
// between check and insert.
type Checker interface {
	IDExists(ctx context.Context, kind types.IDKind, id string) (bool, error)
}

// Generator produces collision-free identifiers. A collision is always
// detected and retried against the store, never assumed impossible.
type Generator struct {
	checker Checker
}

func New(checker Checker) *Generator {
	return &Generator{checker: checker}
}

// AccountID returns an unused short human-legible account code: two uppercase
// letters followed by three digits.
func (g *Generator) AccountID(ctx context.Context) (string, error) {
	return g.generate(ctx, types.IDKindAccount, func() string {
		return fmt.Sprintf("%c%c%03d",
			letters[rand.Intn(len(letters))],
			letters[rand.Intn(len(letters))],
			rand.Intn(1000))
	})
}

// PositionID returns an unused 10-character uppercase alphanumeric
// identifier. Uniqueness is checked against closed trades as well as open
// positions, since a closed trade consumes its position's ID permanently.
func (g *Generator) PositionID(ctx context.Context) (string, error) {
	return g.generate(ctx, types.IDKindPosition, func() string {
		var b strings.Builder
		b.Grow(positionIDLength)
		for i := 0; i < positionIDLength; i++ {
			b.WriteByte(alphanumerics[rand.Intn(len(alphanumerics))])
		}
		return b.String()
	})
}

func (g *Generator) generate(ctx context.Context, kind types.IDKind, next func() string) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id := next()
		exists, err := g.checker.IDExists(ctx, kind, id)
		if err != nil {
			return "", fmt.Errorf("ident - generate - IDExists: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("ident - generate: no free %s id after %d attempts", kind, maxAttempts)
}
