package schemas

import "time"

// -- Skill Schemas --

// Strategy tags the technique that resolved a failed action. The enumeration
// is fixed; anything the proposer invents outside it collapses to
// StrategyOther.
type Strategy string

const (
	StrategyAlternativeSelector Strategy = "alternative-selector"
	StrategyWaitForElement      Strategy = "wait-for-element"
	StrategyScrollIntoView      Strategy = "scroll-into-view"
	StrategyMenuExpansion       Strategy = "menu-expansion"
	StrategyFormNavigation      Strategy = "form-navigation"
	StrategyRetry               Strategy = "retry"
	StrategyOther               Strategy = "other"
)

// NormalizeStrategy maps free-form proposer output onto the fixed enum.
func NormalizeStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyAlternativeSelector, StrategyWaitForElement, StrategyScrollIntoView,
		StrategyMenuExpansion, StrategyFormNavigation, StrategyRetry:
		return Strategy(s)
	}
	return StrategyOther
}

// FailedState captures the action that did not survive verification, plus
// enough context to recognize the same failure again.
type FailedState struct {
	Action     string `json:"action"`      // Action signature, see Action.Signature.
	Element    string `json:"element"`     // Human description of the target element.
	ErrorClass string `json:"error_class"` // "verification" or "actuator".
}

// SuccessfulAction captures the correction that passed verification.
type SuccessfulAction struct {
	Action   string   `json:"action"`
	Element  string   `json:"element"`
	Strategy Strategy `json:"strategy"`
}

// Skill is one learned (failure -> correction) mapping, scoped to
// (TenantID, Domain) and unique on (TenantID, Domain, GoalNormalized,
// FailedState.Action). A given failure signature maps to exactly one evolving
// record that outcomes reinforce or weaken; it is never duplicated.
type Skill struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	Domain         string `json:"domain"`
	Goal           string `json:"goal"`
	GoalNormalized string `json:"goal_normalized"`

	FailedState      FailedState      `json:"failed_state"`
	SuccessfulAction SuccessfulAction `json:"successful_action"`

	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`

	// LastUsedAt is the time of the last successful application; the 90-day
	// eviction sweep keys on it.
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Rate derives the success rate from the counters. Both counters at zero
// defaults to 1: a freshly learned skill starts trusted.
func (s Skill) Rate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(s.SuccessCount) / float64(total)
}

// SkillHint is the compact projection of a Skill handed to the proposer when
// a correction is needed. It is safe for prompt injection: no ids, no tenant
// data, just the failure/correction pair and its track record.
type SkillHint struct {
	FailedAction      string   `json:"failed_action"`
	FailedElement     string   `json:"failed_element,omitempty"`
	SuccessfulAction  string   `json:"successful_action"`
	SuccessfulElement string   `json:"successful_element,omitempty"`
	Strategy          Strategy `json:"strategy"`
	SuccessRate       float64  `json:"success_rate"`
}

// Hint projects the skill into its prompt-safe form.
func (s Skill) Hint() SkillHint {
	return SkillHint{
		FailedAction:      s.FailedState.Action,
		FailedElement:     s.FailedState.Element,
		SuccessfulAction:  s.SuccessfulAction.Action,
		SuccessfulElement: s.SuccessfulAction.Element,
		Strategy:          s.SuccessfulAction.Strategy,
		SuccessRate:       s.SuccessRate,
	}
}
