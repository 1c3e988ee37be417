// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// New builds the backend named by cfg.Backend.
func New(cfg types.ModelsConfig, logger *zap.Logger) (Model, error) {
	switch cfg.Backend {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, logger), nil
	case "claude":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("claude backend requires an API key")
		}
		return &Claude{APIKey: cfg.APIKey, Client: &http.Client{}}, nil
	case "fake":
		return DryRun(), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// DryRun returns a Fake scripted to exercise a full deep journey offline.
func DryRun() *Fake {
	return NewFake().
		On(types.StageRouting, FakeReply{Text: `{"tier": 3, "reasoning": "dry run", "confidence": 0.9, "explicit_deep_research": true, "recall_request": false}`}).
		On(types.StagePlanning, FakeReply{Text: `{"estimated_rounds": 2, "strategy": "systematic", "focus_areas": ["efficacy", "safety"], "reasoning": "dry run"}`}).
		On(types.StageReflection, FakeReply{Text: `{"well_covered": ["efficacy", "safety"], "partially_covered": [], "not_covered": [], "gap_score": 0.9, "evidence_quality": "high", "decision": "stop", "reasoning": "dry run"}`}).
		On(types.StageSynthesis, FakeReply{Tokens: []string{"This ", "is ", "a ", "dry ", "run ", "answer ", "[1]."}})
}
