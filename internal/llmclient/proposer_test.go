package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
)

// cannedGenerator replays a fixed response and records the request it saw.
type cannedGenerator struct {
	content string
	tokens  int
	err     error
	lastReq GenerationRequest
}

func (c *cannedGenerator) Generate(_ context.Context, req GenerationRequest) (*GenerationResult, error) {
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return &GenerationResult{Content: c.content, PromptTokens: c.tokens, OutputTokens: 12}, nil
}

func proposeRequest() engine.ProposeRequest {
	return engine.ProposeRequest{
		Task: &schemas.Task{
			TaskID:           "task-1",
			Goal:             "Buy oat milk",
			TargetURL:        "https://shop.example.com/",
			CurrentStepIndex: 2,
		},
		History: []schemas.TaskAction{
			{StepIndex: 0, Action: schemas.Action{Type: schemas.ActionNavigate, Value: "https://shop.example.com/"}},
			{StepIndex: 1, Action: schemas.Action{Type: schemas.ActionClick, Selector: "#search"}},
		},
		Memory:      map[string]any{"preferred_brand": "Oatly"},
		DOMSkeleton: `<button id="add-to-cart">Add to cart</button>`,
	}
}

func TestProposerPropose(t *testing.T) {
	ctx := context.Background()

	t.Run("should parse a fenced proposal envelope", func(t *testing.T) {
		gen := &cannedGenerator{
			content: "```json\n" + `{
                "thought": "The add to cart button is visible.",
                "action": {"type": "click", "selector": "#add-to-cart"},
                "expected_outcome": {"element_should_exist": [".cart-count"]}
            }` + "\n```",
			tokens: 420,
		}
		proposer := NewProposer(gen, zap.NewNop())

		proposal, err := proposer.Propose(ctx, proposeRequest())
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionClick, proposal.Action.Type)
		assert.Equal(t, "#add-to-cart", proposal.Action.Selector)
		assert.Equal(t, []string{".cart-count"}, proposal.ExpectedOutcome.ElementShouldExist)
		assert.Equal(t, 420, proposal.PromptTokens)
		assert.True(t, gen.lastReq.ForceJSONFormat, "proposer should request strict JSON output")
	})

	t.Run("should return ErrNoCandidate on unparseable output", func(t *testing.T) {
		gen := &cannedGenerator{content: "I am not sure what to do next."}
		proposer := NewProposer(gen, zap.NewNop())

		_, err := proposer.Propose(ctx, proposeRequest())
		require.ErrorIs(t, err, engine.ErrNoCandidate)
	})

	t.Run("should return ErrNoCandidate when the action type is missing", func(t *testing.T) {
		gen := &cannedGenerator{content: `{"thought": "hmm", "action": {}, "expected_outcome": {}}`}
		proposer := NewProposer(gen, zap.NewNop())

		_, err := proposer.Propose(ctx, proposeRequest())
		require.ErrorIs(t, err, engine.ErrNoCandidate)
	})

	t.Run("should render every prompt section it was handed", func(t *testing.T) {
		gen := &cannedGenerator{content: `{"thought": "ok", "action": {"type": "finish"}, "expected_outcome": {}}`}
		proposer := NewProposer(gen, zap.NewNop())

		req := proposeRequest()
		req.FailedAction = &schemas.Action{Type: schemas.ActionClick, Selector: "#buy"}
		req.FailureReason = "element has no visible effect"
		req.SkillHints = []schemas.SkillHint{{
			FailedAction:      "click:#buy",
			SuccessfulAction:  "click:#buy-now",
			SuccessfulElement: "#buy-now",
			Strategy:          schemas.StrategyAlternativeSelector,
			SuccessRate:       0.9,
		}}
		req.UserResolutionData = map[string]any{"otp": "123456"}

		_, err := proposer.Propose(ctx, req)
		require.NoError(t, err)

		prompt := gen.lastReq.UserPrompt
		assert.Contains(t, prompt, "GOAL: Buy oat milk")
		assert.Contains(t, prompt, "STEP INDEX: 2")
		assert.Contains(t, prompt, "step 1: ")
		assert.Contains(t, prompt, "preferred_brand")
		assert.Contains(t, prompt, "USER PROVIDED")
		assert.Contains(t, prompt, "THE PREVIOUS ACTION FAILED")
		assert.Contains(t, prompt, "element has no visible effect")
		assert.Contains(t, prompt, "CORRECTIONS THAT WORKED HERE BEFORE")
		assert.Contains(t, prompt, "alternative-selector")
		assert.Contains(t, prompt, `<button id="add-to-cart">`)
	})

	t.Run("should propagate transport errors untouched", func(t *testing.T) {
		gen := &cannedGenerator{err: assert.AnError}
		proposer := NewProposer(gen, zap.NewNop())

		_, err := proposer.Propose(ctx, proposeRequest())
		require.ErrorIs(t, err, assert.AnError)
		assert.NotErrorIs(t, err, engine.ErrNoCandidate)
	})
}
