package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

func newTestVerifier() *Verifier {
	return New(zap.NewNop())
}

func TestVerifyEmptyOutcomeFails(t *testing.T) {
	v := newTestVerifier()
	result := v.Verify("<div></div>", "<div></div>", "https://a.com", "https://a.com", schemas.ExpectedOutcome{})
	require.False(t, result.Passed)
	assert.Contains(t, result.Reason, "no clauses")
}

func TestVerifyElementShouldExist(t *testing.T) {
	v := newTestVerifier()
	after := `<div id="confirmation" class="banner success">Order placed</div>`

	tests := []struct {
		name     string
		selector string
		want     bool
	}{
		{"by id", "#confirmation", true},
		{"by bare id", "confirmation", true},
		{"by class word boundary", ".success", true},
		{"class substring must not match", ".succ", false},
		{"missing element", "#receipt", false},
		{"natural language free text", "Order placed", true},
		{"bare tag", "div", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
				ElementShouldExist: []string{tc.selector},
			})
			assert.Equal(t, tc.want, result.Passed, "selector %q", tc.selector)
			if !tc.want {
				assert.Contains(t, result.Reason, "elementShouldExist")
			}
		})
	}
}

func TestVerifyElementShouldNotExist(t *testing.T) {
	v := newTestVerifier()
	after := `<div class="spinner active">Loading</div>`

	result := v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		ElementShouldNotExist: []string{".spinner"},
	})
	require.False(t, result.Passed)
	assert.Contains(t, result.Reason, "elementShouldNotExist")

	result = v.Verify("", `<main>done</main>`, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		ElementShouldNotExist: []string{".spinner"},
	})
	assert.True(t, result.Passed)
}

func TestVerifyElementShouldHaveText(t *testing.T) {
	v := newTestVerifier()
	after := `<span data-testid="cart-count">3 items</span> <footer>fine print</footer>`

	result := v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		ElementShouldHaveText: []schemas.TextExpectation{{Selector: "cart-count", Text: "3 items"}},
	})
	assert.True(t, result.Passed)

	result = v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		ElementShouldHaveText: []schemas.TextExpectation{{Selector: "cart-count", Text: "17 items"}},
	})
	require.False(t, result.Passed)
	assert.Contains(t, result.Reason, "elementShouldHaveText")
}

func TestVerifyAttributeChanges(t *testing.T) {
	v := newTestVerifier()
	after := `<button id="menu" aria-expanded="true">Menu</button>`

	result := v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		AttributeChanges: []schemas.AttributeChange{{Attribute: "aria-expanded", Value: "true"}},
	})
	assert.True(t, result.Passed)

	result = v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		AttributeChanges: []schemas.AttributeChange{{Attribute: "aria-expanded", Value: "false"}},
	})
	assert.False(t, result.Passed)
}

func TestVerifyRoleFallbacks(t *testing.T) {
	v := newTestVerifier()

	// A literal menuitem role is absent but a listitem stands in for it.
	after := `<ul role="list"><li role="listitem">Entry</li></ul>`
	result := v.Verify("", after, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		ElementsToAppear: []string{"menuitem"},
	})
	assert.True(t, result.Passed)

	result = v.Verify("", `<div>nothing</div>`, "https://a.com", "https://a.com", schemas.ExpectedOutcome{
		ElementsToAppear: []string{"menuitem"},
	})
	assert.False(t, result.Passed)
}

func TestVerifyConjunction(t *testing.T) {
	v := newTestVerifier()
	after := `<div id="done">Saved</div>`

	// One passing and one failing clause must fail overall.
	result := v.Verify("", after, "https://a.com/a", "https://a.com/b", schemas.ExpectedOutcome{
		ElementShouldExist: []string{"#done", "#missing"},
		URLShouldChange:    true,
	})
	require.False(t, result.Passed)
	assert.Contains(t, result.Reason, "missing")
}

func TestURLChangedSignificantly(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		want   bool
	}{
		{"identical", "https://a.com/x", "https://a.com/x", false},
		{"fragment only", "https://a.com/x#top", "https://a.com/x#bottom", false},
		{"path change", "https://a.com/x", "https://a.com/y", true},
		{"query change", "https://a.com/x?p=1", "https://a.com/x?p=2", true},
		{"host change", "https://a.com/x", "https://b.com/x", true},
		{"unparseable falls back to raw compare", "::bad::", "::bad::", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, URLChangedSignificantly(tc.before, tc.after))
		})
	}
}

func TestSanitizeSelectorDecodesEntities(t *testing.T) {
	assert.Equal(t, `a"b`, SanitizeSelector(`a&quot;b`))
	assert.Equal(t, `a<b`, SanitizeSelector(`a&#60;b`))
	assert.Equal(t, `a<b`, SanitizeSelector(`a&#x3C;b`))
}
