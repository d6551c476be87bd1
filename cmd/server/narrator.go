package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"loreweave.ai/internal/generation"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/tuning"
)

type generator interface {
	generation.Narrator
	chronicle.Summarizer
}

func openGenerator(ctx context.Context, e serverEnv, tune tuning.Tuning, logger *log.Logger) (generator, string, error) {
	mode := strings.ToLower(strings.TrimSpace(e.Narrator))
	if mode == "auto" {
		mode = "stub"
		if e.GeminiAPIKey != "" {
			mode = "gemini"
		}
	}
	switch mode {
	case "stub":
		return &generation.Stub{}, mode, nil
	case "gemini":
		g, err := generation.NewGemini(ctx, generation.GeminiConfig{
			APIKey:       e.GeminiAPIKey,
			Model:        tune.Narration.Model,
			SummaryModel: tune.Narration.SummaryModel,
			Temperature:  tune.Narration.Temperature,
			Logger:       log.New(logger.Writer(), "[gemini] ", logger.Flags()),
		})
		if err != nil {
			return nil, mode, err
		}
		return g, mode, nil
	default:
		return nil, mode, fmt.Errorf("unsupported LW_NARRATOR: %s", e.Narrator)
	}
}
