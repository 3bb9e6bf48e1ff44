// Package rank generates fractional-index keys for ordering list items.
//
// A key is an integer part followed by an optional fractional part, both
// written in base-62 digits ordered by ASCII ("0-9A-Za-z"). The first
// character of the integer part encodes its length: 'a'..'z' are positive
// integers of 1..26 digits, 'A'..'Z' negative ones of 26..1 digits. Plain Go
// string comparison therefore orders keys, and appending at either end of a
// list only increments or decrements the integer part, so keys grow by one
// character roughly every 62^k appends instead of every few.
//
// Keys between two neighbours are produced by taking the digit-wise midpoint
// of their fractional parts and extending by one digit when the neighbours
// are adjacent at the current length. No other key ever needs renumbering.
package rank

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Digits is the ordered alphabet keys are written in.
const Digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(Digits)

// suffixDigits is the length of the random fraction a seeded Generator
// appends to generated keys.
const suffixDigits = 3

var (
	// ErrInvalidKey is returned for keys that were not produced by this package.
	ErrInvalidKey = errors.New("invalid rank key")
	// ErrOutOfOrder is returned by Between when low >= high.
	ErrOutOfOrder = errors.New("rank keys out of order")
	// ErrExhausted is returned when the integer range is used up at an extreme.
	ErrExhausted = errors.New("rank key space exhausted")
)

// smallestInteger is the lowest integer part; no key may equal it exactly,
// otherwise nothing could be generated before it.
var smallestInteger = "A" + strings.Repeat("0", 26)

// Generator produces keys. The zero value is usable and deterministic.
// A Generator created with NewGenerator jitters the chosen midpoint digit
// within the middle of the available gap and appends a random fraction to
// every key it can, so that independent writers inserting at the same
// position, including the head and tail of a list, rarely pick identical keys.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator whose tie-breaking draws from src.
// A nil src yields a deterministic generator.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		return &Generator{}
	}
	return &Generator{rng: rand.New(src)}
}

var std = &Generator{}

// Initial returns the key used for the first item of an empty list.
func Initial() string { return std.Initial() }

// Before returns a key that sorts before key.
func Before(key string) (string, error) { return std.Before(key) }

// After returns a key that sorts after key.
func After(key string) (string, error) { return std.After(key) }

// Between returns a key strictly between low and high.
func Between(low, high string) (string, error) { return std.Between(low, high) }

// Validate reports whether key is a well-formed rank key.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if key == smallestInteger {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(Digits, key[i]) < 0 {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, key[i])
		}
	}
	i, err := integerPart(key)
	if err != nil {
		return err
	}
	if f := key[len(i):]; f != "" && f[len(f)-1] == Digits[0] {
		return fmt.Errorf("%w: %q has trailing zero", ErrInvalidKey, key)
	}
	return nil
}

// Initial returns the key at the middle of the integer range.
func (g *Generator) Initial() string {
	return initialKey + g.suffix()
}

var initialKey = "a" + string(Digits[0])

// Before returns a key that sorts before key.
func (g *Generator) Before(key string) (string, error) {
	return g.between("", key)
}

// After returns a key that sorts after key.
func (g *Generator) After(key string) (string, error) {
	return g.between(key, "")
}

// Between returns a key strictly between low and high. Either bound may be
// empty, meaning unbounded on that side. It fails when low >= high.
func (g *Generator) Between(low, high string) (string, error) {
	return g.between(low, high)
}

// Sequence returns n keys in ascending order, all strictly between low and
// high (either may be empty). It is used to seed a list in one pass.
func (g *Generator) Sequence(low, high string, n int) ([]string, error) {
	keys := make([]string, 0, n)
	prev := low
	for i := 0; i < n; i++ {
		k, err := g.between(prev, high)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		prev = k
	}
	return keys, nil
}

// between computes the plain key and then extends it with the random suffix
// whenever the extended key still sorts below b.
func (g *Generator) between(a, b string) (string, error) {
	k, err := g.plain(a, b)
	if err != nil {
		return "", err
	}
	if s := g.suffix(); s != "" && (b == "" || !strings.HasPrefix(b, k)) {
		return k + s, nil
	}
	return k, nil
}

func (g *Generator) plain(a, b string) (string, error) {
	if a != "" {
		if err := Validate(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := Validate(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", ErrOutOfOrder, a, b)
	}

	if a == "" {
		if b == "" {
			return initialKey, nil
		}
		ib, _ := integerPart(b)
		fb := b[len(ib):]
		if ib == smallestInteger {
			return ib + g.midpoint("", fb), nil
		}
		// A seeded generator steps down a whole integer so the random
		// suffix fits below b.
		if ib < b && !g.seeded() {
			return ib, nil
		}
		res, ok := decrementInteger(ib)
		if !ok {
			return "", ErrExhausted
		}
		return res, nil
	}

	if b == "" {
		ia, _ := integerPart(a)
		fa := a[len(ia):]
		i, ok := incrementInteger(ia)
		if !ok {
			return ia + g.midpoint(fa, ""), nil
		}
		return i, nil
	}

	ia, _ := integerPart(a)
	fa := a[len(ia):]
	ib, _ := integerPart(b)
	fb := b[len(ib):]
	if ia == ib {
		return ia + g.midpoint(fa, fb), nil
	}
	i, ok := incrementInteger(ia)
	if !ok {
		return "", ErrExhausted
	}
	if i < b && !(g.seeded() && strings.HasPrefix(b, i)) {
		return i, nil
	}
	return ia + g.midpoint(fa, ""), nil
}

func (g *Generator) seeded() bool {
	return g.rng != nil
}

// midpoint returns a fraction strictly between a and b, where an empty a is
// zero and an empty b is one. Neither input may end in the zero digit.
func (g *Generator) midpoint(a, b string) string {
	if b != "" {
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(a) {
				rest = a[n:]
			}
			return b[:n] + g.midpoint(rest, b[n:])
		}
	}

	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(Digits, a[0])
	}
	digitB := base
	if b != "" {
		digitB = strings.IndexByte(Digits, b[0])
	}

	if digitB-digitA > 1 {
		return string(Digits[g.pick(digitA, digitB)])
	}
	if len(b) > 1 {
		return b[:1]
	}
	rest := ""
	if len(a) > 1 {
		rest = a[1:]
	}
	return string(Digits[digitA]) + g.midpoint(rest, "")
}

// suffix returns a random fraction with no trailing zero digit, or "" for a
// deterministic generator.
func (g *Generator) suffix() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rng == nil {
		return ""
	}
	buf := make([]byte, suffixDigits)
	for i := range buf[:len(buf)-1] {
		buf[i] = Digits[g.rng.Intn(base)]
	}
	buf[len(buf)-1] = Digits[1+g.rng.Intn(base-1)]
	return string(buf)
}

// pick returns a digit strictly between lo and hi, hi-lo > 1.
func (g *Generator) pick(lo, hi int) int {
	mid := (lo + hi + 1) / 2
	span := hi - lo
	if span < 6 {
		return mid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rng == nil {
		return mid
	}
	w := span / 6
	return mid - w + g.rng.Intn(2*w+1)
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return Digits[0]
}

func integerLength(head byte) (int, error) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, nil
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, nil
	default:
		return 0, fmt.Errorf("%w: head %q", ErrInvalidKey, head)
	}
}

func integerPart(key string) (string, error) {
	n, err := integerLength(key[0])
	if err != nil {
		return "", err
	}
	if n > len(key) {
		return "", fmt.Errorf("%w: %q is shorter than its integer part", ErrInvalidKey, key)
	}
	return key[:n], nil
}

func incrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])
	carry := true
	for i := len(digs) - 1; carry && i >= 0; i-- {
		d := strings.IndexByte(Digits, digs[i]) + 1
		if d == base {
			digs[i] = Digits[0]
		} else {
			digs[i] = Digits[d]
			carry = false
		}
	}
	if !carry {
		return string(head) + string(digs), true
	}
	switch head {
	case 'Z':
		return "a" + string(Digits[0]), true
	case 'z':
		return "", false
	}
	h := head + 1
	if h > 'a' {
		digs = append(digs, Digits[0])
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

func decrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])
	borrow := true
	for i := len(digs) - 1; borrow && i >= 0; i-- {
		d := strings.IndexByte(Digits, digs[i]) - 1
		if d == -1 {
			digs[i] = Digits[base-1]
		} else {
			digs[i] = Digits[d]
			borrow = false
		}
	}
	if !borrow {
		return string(head) + string(digs), true
	}
	switch head {
	case 'a':
		return "Z" + string(Digits[base-1]), true
	case 'A':
		return "", false
	}
	h := head - 1
	if h < 'Z' {
		digs = append(digs, Digits[base-1])
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}
