// Package interpolate resolves {{token}} placeholders in outbound text.
package interpolate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/bytedance/sonic"
)

// tokenPattern matches {{ key }} with optional inner whitespace.
var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Interpolate replaces every {{key}} in template. Keys match case-insensitively.
// Session variables win over the contact built-ins (name/nome, email,
// phone/telefone); unresolved tokens are removed. The result is trimmed.
func Interpolate(template string, variables map[string]any, contact domain.Contact) string {
	if !strings.Contains(template, "{{") {
		return strings.TrimSpace(template)
	}
	scope := NewScope(variables, contact)
	out := tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := tokenPattern.FindStringSubmatch(token)[1]
		v, ok := scope.Lookup(key)
		if !ok {
			return ""
		}
		return Format(v)
	})
	return strings.TrimSpace(out)
}

// Scope is a case-insensitive view over session variables and contact fields.
type Scope struct {
	vars    map[string]any
	contact domain.Contact
}

// NewScope indexes variables by lower-cased key. When two keys differ only by
// case, the lexically greater original key wins so the result is deterministic.
func NewScope(variables map[string]any, contact domain.Contact) *Scope {
	vars := make(map[string]any, len(variables))
	origin := make(map[string]string, len(variables))
	for k, v := range variables {
		lk := strings.ToLower(k)
		if prev, ok := origin[lk]; ok && prev > k {
			continue
		}
		origin[lk] = k
		vars[lk] = v
	}
	return &Scope{vars: vars, contact: contact}
}

// Lookup resolves a key: flat session variable, then a dotted path into
// nested maps, then contact built-ins.
func (s *Scope) Lookup(key string) (any, bool) {
	lk := strings.ToLower(strings.TrimSpace(key))
	if lk == "" {
		return nil, false
	}
	if v, ok := s.vars[lk]; ok {
		return v, true
	}
	if strings.Contains(lk, ".") {
		if v, ok := s.walk(strings.Split(lk, ".")); ok {
			return v, true
		}
	}
	return s.builtin(lk)
}

func (s *Scope) walk(parts []string) (any, bool) {
	cur, ok := s.vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		next, found := lookupFold(m, p)
		if !found {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (s *Scope) builtin(key string) (any, bool) {
	var v string
	switch key {
	case "name", "nome":
		v = s.contact.Name
	case "email":
		v = s.contact.Email
	case "phone", "telefone":
		v = s.contact.Phone
	default:
		return nil, false
	}
	if v == "" {
		return nil, false
	}
	return v, true
}

// Format renders a variable value as text.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := sonic.ConfigStd.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
