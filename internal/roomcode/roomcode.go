// Package roomcode generates the short codes users share to join a room.
package roomcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
)

const (
	alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MinLength     = 6
	MaxLength     = 10
	DefaultLength = 8
	// MaxAttempts bounds the number of collisions tolerated before giving up.
	MaxAttempts = 10
)

var (
	codePattern = regexp.MustCompile(`^[A-Z0-9]{6,10}$`)

	ErrExhausted = errors.New("no unique room code found")
)

// Valid reports whether code has the room code format.
func Valid(code string) bool {
	return codePattern.MatchString(code)
}

// ClaimFunc tries to take code. It reports taken when another room already
// holds the code.
type ClaimFunc func(ctx context.Context, code string) (taken bool, err error)

type Generator struct {
	length int
	src    io.Reader
}

// NewGenerator returns a generator producing codes of the given length,
// clamped to [MinLength, MaxLength].
func NewGenerator(length int) *Generator {
	return NewGeneratorFromReader(length, rand.Reader)
}

// NewGeneratorFromReader is NewGenerator with an explicit entropy source.
func NewGeneratorFromReader(length int, src io.Reader) *Generator {
	if length < MinLength {
		length = MinLength
	}
	if length > MaxLength {
		length = MaxLength
	}

	return &Generator{
		length: length,
		src:    src,
	}
}

// Generate returns a random code without checking for collisions.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, g.length)
	if _, err := io.ReadFull(g.src, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}

	return string(buf), nil
}

// Next generates codes until claim succeeds and returns the claimed code. It
// gives up with ErrExhausted after MaxAttempts collisions.
func (g *Generator) Next(ctx context.Context, claim ClaimFunc) (string, error) {
	for range MaxAttempts {
		code, err := g.Generate()
		if err != nil {
			return "", err
		}

		taken, err := claim(ctx, code)
		if err != nil {
			return "", fmt.Errorf("claim room code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", ErrExhausted
}
