package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	receiptPrefix       = "RCP"
	receiptSuffixLength = 4
	receiptAlphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ReceiptGenerator issues receipt numbers of the form RCP-<base36 ms>-<4 base36 chars>.
// Within one process it never repeats a suffix for the same millisecond; uniqueness
// across processes is enforced by the database constraint and a retry in the caller.
type ReceiptGenerator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastMS   int64
	usedInMS map[string]struct{}
}

// NewReceiptGenerator returns a generator backed by the wall clock.
func NewReceiptGenerator() *ReceiptGenerator {
	return NewReceiptGeneratorWithClock(time.Now)
}

// NewReceiptGeneratorWithClock is used by tests to pin the clock.
func NewReceiptGeneratorWithClock(now func() time.Time) *ReceiptGenerator {
	return &ReceiptGenerator{now: now, usedInMS: make(map[string]struct{})}
}

// Next returns a fresh receipt number.
func (g *ReceiptGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMS {
		ms = g.lastMS
	}
	if ms != g.lastMS {
		g.lastMS = ms
		g.usedInMS = make(map[string]struct{})
	}

	// 36^4 suffixes per millisecond; move to the next millisecond once exhausted.
	if len(g.usedInMS) >= pow36(receiptSuffixLength) {
		g.lastMS++
		ms = g.lastMS
		g.usedInMS = make(map[string]struct{})
	}

	for {
		suffix, err := randomBase36(receiptSuffixLength)
		if err != nil {
			return "", err
		}
		if _, taken := g.usedInMS[suffix]; taken {
			continue
		}
		g.usedInMS[suffix] = struct{}{}
		return receiptPrefix + "-" + strings.ToUpper(strconv.FormatInt(ms, 36)) + "-" + suffix, nil
	}
}

// IsReceiptNumber reports whether s has the receipt number shape.
func IsReceiptNumber(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != receiptPrefix || parts[1] == "" || len(parts[2]) != receiptSuffixLength {
		return false
	}
	for _, r := range parts[1] + parts[2] {
		if !strings.ContainsRune(receiptAlphabet, r) {
			return false
		}
	}
	return true
}

func randomBase36(length int) (string, error) {
	max := big.NewInt(int64(len(receiptAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(receiptAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func pow36(n int) int {
	result := 1
	for i := 0; i < n; i++ {
		result *= 36
	}
	return result
}
