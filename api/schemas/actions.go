package schemas

// ActionType enumerates every action the proposer may ask the engine to
// perform. Browser actions are applied by the actuator; memory actions are
// handled in-process; control actions drive the task lifecycle.
type ActionType string

const (
	// -- Browser actions (applied by the actuator) --
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionSetValue ActionType = "setValue"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"

	// -- Memory actions (handled by the memory service) --
	ActionRemember        ActionType = "remember"
	ActionRecall          ActionType = "recall"
	ActionExportToSession ActionType = "exportToSession"

	// -- Control actions --
	ActionFinish    ActionType = "finish"    // Goal achieved; concludes the task.
	ActionAwaitUser ActionType = "awaitUser" // Blocker requires human input.
)

// IsMemoryAction reports whether the action is routed through the memory
// service instead of the actuator.
func (t ActionType) IsMemoryAction() bool {
	return t == ActionRemember || t == ActionRecall || t == ActionExportToSession
}

// Action is one concrete step decided by the proposer. The engine treats it
// as opaque beyond Type and the routing fields below; the actuator owns its
// browser-level interpretation.
type Action struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`

	// Memory-action fields.
	Key        string `json:"key,omitempty"`
	Scope      string `json:"scope,omitempty"` // "task" (default) or "session"
	SessionKey string `json:"session_key,omitempty"`

	// Blocker fields, set when Type is awaitUser.
	BlockerKind    string `json:"blocker_kind,omitempty"`
	BlockerMessage string `json:"blocker_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Signature is the stable identity of an action used as a skill-library key.
// It deliberately excludes Value so that e.g. typing different text into the
// same field maps to the same failure signature.
func (a Action) Signature() string {
	if a.Selector == "" {
		return string(a.Type)
	}
	return string(a.Type) + ":" + a.Selector
}

// TextExpectation pairs a selector with text the element near it must carry.
type TextExpectation struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// AttributeChange expects an attribute to hold an exact value after the
// action, e.g. aria-expanded flipping to "true".
type AttributeChange struct {
	Selector  string `json:"selector,omitempty"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// ExpectedOutcome is the structured predicate the proposer attaches to every
// action. Each clause is independently checkable against the cleaned
// post-action DOM (and, for the URL clause, the before/after URL pair). All
// declared clauses must pass; an outcome with no clauses at all is a design
// error and verifies as FAIL, never as a silent PASS.
type ExpectedOutcome struct {
	ElementShouldExist    []string          `json:"element_should_exist,omitempty"`
	ElementShouldNotExist []string          `json:"element_should_not_exist,omitempty"`
	ElementShouldHaveText []TextExpectation `json:"element_should_have_text,omitempty"`
	URLShouldChange       bool              `json:"url_should_change,omitempty"`
	AttributeChanges      []AttributeChange `json:"attribute_changes,omitempty"`
	ElementsToAppear      []string          `json:"elements_to_appear,omitempty"`    // ARIA roles
	ElementsToDisappear   []string          `json:"elements_to_disappear,omitempty"` // ARIA roles
}

// IsEmpty reports whether the outcome declares no clauses at all.
func (e ExpectedOutcome) IsEmpty() bool {
	return len(e.ElementShouldExist) == 0 &&
		len(e.ElementShouldNotExist) == 0 &&
		len(e.ElementShouldHaveText) == 0 &&
		!e.URLShouldChange &&
		len(e.AttributeChanges) == 0 &&
		len(e.ElementsToAppear) == 0 &&
		len(e.ElementsToDisappear) == 0
}
