package llmclient

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
	"github.com/pagepilot-ai/pagepilot/internal/llmutil"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Generator is the transport the proposer runs on. GeminiClient satisfies
// it; tests swap in a canned one.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// Proposer adapts a Generator to the engine's Proposer contract. It owns
// prompt composition and the defensive parse of the model's reply.
type Proposer struct {
	client Generator
	logger *zap.Logger
}

// NewProposer wraps a generation client as an engine proposer.
func NewProposer(client Generator, logger *zap.Logger) *Proposer {
	return &Proposer{
		client: client,
		logger: logger.Named("llmclient.proposer"),
	}
}

const systemPrompt = `You are a web automation agent. Given a goal, the current page
skeleton and the step history, decide the single next action. Respond with a
single JSON object of the shape:
{"thought": "...", "action": {"type": "...", "selector": "...", "value": "..."},
 "expected_outcome": {...}}
Valid action types: navigate, click, setValue, scroll, wait, remember, recall,
exportToSession, finish, awaitUser. Always declare at least one expected
outcome clause for browser actions.`

// proposalEnvelope mirrors the JSON shape the model is asked for.
type proposalEnvelope struct {
	Thought         string                  `json:"thought"`
	Action          schemas.Action          `json:"action"`
	ExpectedOutcome schemas.ExpectedOutcome `json:"expected_outcome"`
}

// Propose asks the model for the next step. Malformed output comes back as
// ErrNoCandidate so the engine can simply try again.
func (p *Proposer) Propose(ctx context.Context, req engine.ProposeRequest) (*engine.Proposal, error) {
	userPrompt, err := p.buildUserPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("failed to compose proposal prompt: %w", err)
	}

	result, err := p.client.Generate(ctx, GenerationRequest{
		SystemPrompt:    systemPrompt,
		UserPrompt:      userPrompt,
		ForceJSONFormat: true,
	})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	envelope, err := llmutil.ParseJSONResponse[proposalEnvelope](result.Content)
	if err != nil {
		p.logger.Warn("Discarding unparseable proposal", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", engine.ErrNoCandidate, err)
	}
	if envelope.Action.Type == "" {
		p.logger.Warn("Discarding proposal without an action type")
		return nil, engine.ErrNoCandidate
	}

	return &engine.Proposal{
		Thought:         envelope.Thought,
		Action:          envelope.Action,
		ExpectedOutcome: envelope.ExpectedOutcome,
		PromptTokens:    result.PromptTokens,
		OutputTokens:    result.OutputTokens,
	}, nil
}

// buildUserPrompt renders the request as labeled JSON sections. The model
// sees only what the engine handed over; nothing is fetched here.
func (p *Proposer) buildUserPrompt(req engine.ProposeRequest) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "GOAL: %s\n", req.Task.Goal)
	fmt.Fprintf(&sb, "CURRENT URL: %s\n", req.Task.TargetURL)
	fmt.Fprintf(&sb, "STEP INDEX: %d\n", req.Task.CurrentStepIndex)

	if len(req.History) > 0 {
		sb.WriteString("\nHISTORY (oldest first):\n")
		for _, step := range req.History {
			line, err := jsonAPI.MarshalToString(step.Action)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "  step %d: %s\n", step.StepIndex, line)
		}
	}
	if len(req.Memory) > 0 {
		rendered, err := jsonAPI.MarshalToString(req.Memory)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "\nTASK MEMORY: %s\n", rendered)
	}
	if len(req.UserResolutionData) > 0 {
		rendered, err := jsonAPI.MarshalToString(req.UserResolutionData)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "\nUSER PROVIDED (resume payload): %s\n", rendered)
	}

	if req.FailedAction != nil {
		failed, err := jsonAPI.MarshalToString(req.FailedAction)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "\nTHE PREVIOUS ACTION FAILED.\nFailed action: %s\nReason: %s\n", failed, req.FailureReason)
		fmt.Fprintf(&sb, "Propose a DIFFERENT action that works around the failure.\n")
	}
	if len(req.SkillHints) > 0 {
		sb.WriteString("\nCORRECTIONS THAT WORKED HERE BEFORE:\n")
		for _, hint := range req.SkillHints {
			line, err := jsonAPI.MarshalToString(hint)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}

	fmt.Fprintf(&sb, "\nPAGE SKELETON:\n%s\n", req.DOMSkeleton)
	return sb.String(), nil
}

var _ engine.Proposer = (*Proposer)(nil)
