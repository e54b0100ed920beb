// Package validate checks user answers against the validation kind configured
// on a question node.
package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Kinds understood by the default registry.
const (
	KindText    = "text"
	KindEmail   = "email"
	KindPhone   = "phone"
	KindNumber  = "number"
	KindNumeric = "numeric"
)

// Func reports whether raw is acceptable.
type Func func(raw string) bool

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email accepts local@domain.tld with no whitespace.
func Email(raw string) bool {
	return emailPattern.MatchString(strings.TrimSpace(raw))
}

// Phone accepts 10 to 15 digits once every non-digit is stripped.
func Phone(raw string) bool {
	digits := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 15
}

// Number accepts any finite decimal.
func Number(raw string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Text accepts anything.
func Text(string) bool { return true }

// Registry maps validation kinds to functions. Kinds are case-insensitive.
// Unknown kinds validate successfully.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Func
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	return &Registry{kinds: map[string]Func{
		KindText:    Text,
		KindEmail:   Email,
		KindPhone:   Phone,
		KindNumber:  Number,
		KindNumeric: Number,
	}}
}

// Register adds or replaces the validator for kind.
func (r *Registry) Register(kind string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[normalize(kind)] = fn
}

// Known reports whether kind has a registered validator. The empty kind is
// always known.
func (r *Registry) Known(kind string) bool {
	k := normalize(kind)
	if k == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[k]
	return ok
}

// Validate applies the validator for kind to raw.
func (r *Registry) Validate(kind, raw string) bool {
	r.mu.RLock()
	fn, ok := r.kinds[normalize(kind)]
	r.mu.RUnlock()
	if !ok || fn == nil {
		return true
	}
	return fn(raw)
}

func normalize(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// Default is the registry used by the package-level helpers.
var Default = NewRegistry()

// Validate checks raw against kind using the default registry.
func Validate(kind, raw string) bool { return Default.Validate(kind, raw) }

// Known reports whether the default registry knows kind.
func Known(kind string) bool { return Default.Known(kind) }
