package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"foldguard/internal/encryption"
	"foldguard/internal/guard"
)

// Epoch is the instant FixedClock starts at.
var Epoch = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

// StubClock is a guard.Clock that only moves when told to.
type StubClock struct {
	nanos atomic.Int64
}

var _ guard.Clock = (*StubClock)(nil)

// NewStubClock returns a clock reading t.
func NewStubClock(t time.Time) *StubClock {
	c := &StubClock{}
	c.Set(t)
	return c
}

// FixedClock returns a clock reading Epoch.
func FixedClock() *StubClock { return NewStubClock(Epoch) }

func (c *StubClock) Now() time.Time { return time.Unix(0, c.nanos.Load()).UTC() }

func (c *StubClock) Set(t time.Time) { c.nanos.Store(t.UnixNano()) }

func (c *StubClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

// StubIDGenerator hands out "id-1", "id-2", ... in call order.
type StubIDGenerator struct {
	n atomic.Int64
}

var _ guard.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator { return &StubIDGenerator{} }

func (g *StubIDGenerator) New() string { return "id-" + strconv.FormatInt(g.n.Add(1), 10) }

// ContentHash is the hash a snapshot records for content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewTestEncryptor returns the keyless encryptor used for encrypted stores.
func NewTestEncryptor() *encryption.TestEncryptor { return encryption.NewTestEncryptor() }
