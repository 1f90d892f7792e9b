package reactor

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Clock hands out loop ids. Every top-level batch gets the next value;
// continuation passes inherit it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next loop id.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// TokenGenerator produces correlation tokens for top-level batches. The
// token travels with every continuation pass and ends up in pass records.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
