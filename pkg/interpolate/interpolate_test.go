package interpolate_test

import (
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/interpolate"
	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	contact := domain.Contact{Name: "Ana", Email: "ana@example.com", Phone: "+5511912345678"}

	tests := []struct {
		name     string
		template string
		vars     map[string]any
		want     string
	}{
		{"No tokens", "  Hello there  ", nil, "Hello there"},
		{"Session variable", "Hi {{first}}", map[string]any{"first": "Bia"}, "Hi Bia"},
		{"Case insensitive key", "Hi {{FIRST}}", map[string]any{"First": "Bia"}, "Hi Bia"},
		{"Inner whitespace", "Hi {{ first }}!", map[string]any{"first": "Bia"}, "Hi Bia!"},
		{"Contact name", "Hi {{name}}", nil, "Hi Ana"},
		{"Contact nome alias", "Oi {{nome}}", nil, "Oi Ana"},
		{"Contact telefone alias", "Tel {{telefone}}", nil, "Tel +5511912345678"},
		{"Contact email", "Mail {{email}}", nil, "Mail ana@example.com"},
		{"Variable beats contact", "Hi {{name}}", map[string]any{"name": "Override"}, "Hi Override"},
		{"Unresolved removed", "Code: {{missing}} end", nil, "Code:  end"},
		{"Unresolved at edge trimmed", "{{missing}} Hello", nil, "Hello"},
		{"Number value", "Age {{age}}", map[string]any{"age": 42}, "Age 42"},
		{"Float value", "Total {{total}}", map[string]any{"total": 18.5}, "Total 18.5"},
		{"Dotted path", "Order {{api_response.order.id}}", map[string]any{
			"api_response": map[string]any{"order": map[string]any{"id": "A-1"}},
		}, "Order A-1"},
		{"Flat dotted key wins", "{{a.b}}", map[string]any{"a.b": "flat", "a": map[string]any{"b": "nested"}}, "flat"},
		{"Empty token", "x{{}}y", nil, "xy"},
		{"Nil value", "[{{v}}]", map[string]any{"v": nil}, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interpolate.Interpolate(tt.template, tt.vars, contact)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpolate_IdempotentWithoutTokens(t *testing.T) {
	once := interpolate.Interpolate("Plain text, no tokens.", nil, domain.Contact{})
	twice := interpolate.Interpolate(once, nil, domain.Contact{})
	assert.Equal(t, once, twice)
}

func TestInterpolate_EmptyContactFieldIsUnresolved(t *testing.T) {
	got := interpolate.Interpolate("Hi {{name}}", nil, domain.Contact{})
	assert.Equal(t, "Hi", got)
}

func TestScope_Lookup(t *testing.T) {
	scope := interpolate.NewScope(map[string]any{"Plan": "gold"}, domain.Contact{Name: "Ana"})

	v, ok := scope.Lookup("plan")
	assert.True(t, ok)
	assert.Equal(t, "gold", v)

	v, ok = scope.Lookup("NOME")
	assert.True(t, ok)
	assert.Equal(t, "Ana", v)

	_, ok = scope.Lookup("unknown")
	assert.False(t, ok)
}
