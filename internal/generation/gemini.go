package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"google.golang.org/genai"

	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/chronicle"
)

type GeminiConfig struct {
	APIKey       string
	Model        string
	SummaryModel string
	Temperature  float32
	Logger       *log.Logger
}

// Gemini implements Narrator and Summarizer on the Gemini API with a JSON
// response schema. Output is schema-checked again before it is returned.
type Gemini struct {
	client       *genai.Client
	model        string
	summaryModel string
	temperature  float32
	logger       *log.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: missing api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: missing model")
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{
		client:       client,
		model:        cfg.Model,
		summaryModel: cfg.SummaryModel,
		temperature:  cfg.Temperature,
		logger:       cfg.Logger,
	}, nil
}

func stringSchema() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }

// narrationSchema and summarySchema constrain the model's JSON output to the
// shapes protocol.DecodeNarration and protocol.DecodeSummary accept. The
// per-type required fields of a directive are still enforced only by the
// protocol schema check.
var (
	narrationSchema = &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"narrative"},
		Properties: map[string]*genai.Schema{
			"narrative": stringSchema(),
			"directives": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"type"},
					Properties: map[string]*genai.Schema{
						"type": {
							Type: genai.TypeString,
							Enum: []string{
								protocol.DirectiveMove,
								protocol.DirectiveEnterPackage,
								protocol.DirectiveScriptedMove,
								protocol.DirectiveCompletePackage,
								protocol.DirectiveCrossEvent,
								protocol.DirectiveEntities,
							},
						},
						"location": stringSchema(),
						"package":  stringSchema(),
						"event":    stringSchema(),
						"text":     stringSchema(),
						"names":    {Type: genai.TypeArray, Items: stringSchema()},
					},
				},
			},
		},
		PropertyOrdering: []string{"narrative", "directives"},
	}

	summarySchema = &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"summary", "entities", "events"},
		Properties: map[string]*genai.Schema{
			"summary":  stringSchema(),
			"entities": {Type: genai.TypeArray, Items: stringSchema()},
			"events": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"kind", "text"},
					Properties: map[string]*genai.Schema{
						"kind":    stringSchema(),
						"subject": stringSchema(),
						"text":    stringSchema(),
					},
				},
			},
		},
		PropertyOrdering: []string{"summary", "entities", "events"},
	}
)

func (g *Gemini) generate(ctx context.Context, model, system, prompt string, schema *genai.Schema) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	}
	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		genConfig)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (g *Gemini) Narrate(ctx context.Context, req NarrationRequest) (protocol.Narration, error) {
	text, err := g.generate(ctx, g.model, narratorSystem, narrationPrompt(req), narrationSchema)
	if err != nil {
		return protocol.Narration{}, fmt.Errorf("narrate: %w", err)
	}
	n, err := protocol.DecodeNarration([]byte(text))
	if err != nil {
		g.logger.Printf("rejected narration output (%d bytes): %v", len(text), err)
		return protocol.Narration{}, err
	}
	return n, nil
}

func (g *Gemini) Summarize(ctx context.Context, req chronicle.SummaryRequest) (protocol.SummaryOutput, error) {
	text, err := g.generate(ctx, g.summaryModel, summarizerSystem, summaryPrompt(req), summarySchema)
	if err != nil {
		return protocol.SummaryOutput{}, fmt.Errorf("summarize: %w", err)
	}
	out, err := protocol.DecodeSummary([]byte(text))
	if err != nil {
		g.logger.Printf("rejected summary output (%d bytes): %v", len(text), err)
		return protocol.SummaryOutput{}, err
	}
	return out, nil
}
