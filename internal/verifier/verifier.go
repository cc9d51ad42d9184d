package verifier

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

// Result is the verdict for one verification. Reason is always populated on
// failure and names the first clause that did not hold.
type Result struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Verifier decides whether an attempted action actually succeeded by
// checking every clause of the expected outcome against the cleaned
// post-action DOM (and the before/after URL pair for the URL clause).
type Verifier struct {
	logger *zap.Logger
}

// New creates a Verifier.
func New(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger.Named("verifier")}
}

// Verify evaluates the expected outcome. All declared clauses must pass. An
// outcome with no clauses is a caller bug and fails with a diagnostic
// reason; it never passes silently.
func (v *Verifier) Verify(beforeDOM, afterDOM, beforeURL, afterURL string, expected schemas.ExpectedOutcome) Result {
	if expected.IsEmpty() {
		return Result{Passed: false, Reason: "expected outcome declares no clauses; refusing to pass by default"}
	}

	for _, selector := range expected.ElementShouldExist {
		if !elementExists(afterDOM, selector) {
			return v.fail(clauseFailure("elementShouldExist", fmt.Sprintf("selector %q not found", selector)))
		}
	}

	for _, selector := range expected.ElementShouldNotExist {
		if elementExists(afterDOM, selector) {
			return v.fail(clauseFailure("elementShouldNotExist", fmt.Sprintf("selector %q is still present", selector)))
		}
	}

	for _, expectation := range expected.ElementShouldHaveText {
		if !elementHasText(afterDOM, expectation.Selector, expectation.Text) {
			return v.fail(clauseFailure("elementShouldHaveText",
				fmt.Sprintf("text %q not found near selector %q", expectation.Text, expectation.Selector)))
		}
	}

	if expected.URLShouldChange {
		if !URLChangedSignificantly(beforeURL, afterURL) {
			return v.fail(clauseFailure("urlShouldChange",
				fmt.Sprintf("URL did not change significantly (%q -> %q)", beforeURL, afterURL)))
		}
	}

	for _, change := range expected.AttributeChanges {
		if !attributeHasValue(afterDOM, change.Attribute, change.Value) {
			return v.fail(clauseFailure("attributeChanges",
				fmt.Sprintf("attribute %q did not reach value %q", change.Attribute, change.Value)))
		}
	}

	for _, role := range expected.ElementsToAppear {
		if !roleExists(afterDOM, role) {
			return v.fail(clauseFailure("elementsToAppear", fmt.Sprintf("no element with role %q found", role)))
		}
	}

	for _, role := range expected.ElementsToDisappear {
		if roleExists(afterDOM, role) {
			return v.fail(clauseFailure("elementsToDisappear", fmt.Sprintf("element with role %q is still present", role)))
		}
	}

	return Result{Passed: true, Reason: "all declared clauses passed"}
}

func (v *Verifier) fail(reason string) Result {
	v.logger.Debug("Verification failed", zap.String("reason", reason))
	return Result{Passed: false, Reason: reason}
}

// URLChangedSignificantly implements the significant-change semantics: a
// change in hostname, path or query string is significant (SPAs route via
// query params); a change confined to the fragment alone is not.
func URLChangedSignificantly(beforeURL, afterURL string) bool {
	if beforeURL == afterURL {
		return false
	}

	before, errBefore := url.Parse(beforeURL)
	after, errAfter := url.Parse(afterURL)
	if errBefore != nil || errAfter != nil {
		// Unparseable URLs fall back to raw comparison.
		return beforeURL != afterURL
	}

	if before.Hostname() != after.Hostname() {
		return true
	}
	if before.Path != after.Path {
		return true
	}
	if before.RawQuery != after.RawQuery {
		return true
	}
	// Only the fragment (or scheme noise) differs.
	return false
}
