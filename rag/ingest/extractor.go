package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kbforge/ragengine/store"
)

// EntityExtractor derives typed entities from chunk text. Extraction is
// optional and never fails a document.
type EntityExtractor interface {
	Extract(ctx context.Context, chunks []*store.Chunk) ([]*store.ExtractedEntity, error)
}

// ExtractorConfig configures the LLM-backed extractor.
type ExtractorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type llmExtractor struct {
	client *openai.Client
	model  string
}

// NewLLMExtractor creates an extractor backed by an OpenAI-compatible chat
// completion API.
func NewLLMExtractor(cfg *ExtractorConfig) (EntityExtractor, error) {
	if cfg.Model == "" {
		return nil, errors.New("extractor model required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &llmExtractor{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

const extractionPrompt = `Extract named entities from the text below.
Respond with ONLY a JSON array, no prose. Each element:
{"type": "<entity type>", "text": "<entity text as it appears>", "confidence": <0..1>, "char_start": <offset>, "char_end": <offset>, "attributes": {"<key>": "<value>"}}
Return [] if there are no entities.

Text:
`

// rawEntity is the tolerant wire form; missing fields default to zero.
type rawEntity struct {
	Type       string            `json:"type"`
	Text       string            `json:"text"`
	Confidence float32           `json:"confidence"`
	CharStart  int               `json:"char_start"`
	CharEnd    int               `json:"char_end"`
	Attributes map[string]string `json:"attributes"`
}

func (e *llmExtractor) Extract(ctx context.Context, chunks []*store.Chunk) ([]*store.ExtractedEntity, error) {
	now := time.Now().Unix()
	entities := []*store.ExtractedEntity{}

	for _, chunk := range chunks {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: e.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: extractionPrompt + chunk.Content},
			},
			Temperature: 0,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "entity extraction failed for chunk %s", chunk.ID)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		raw, err := parseEntityJSON(resp.Choices[0].Message.Content)
		if err != nil {
			return nil, errors.Wrapf(err, "unparseable extraction output for chunk %s", chunk.ID)
		}

		for _, r := range raw {
			if r.Text == "" {
				continue
			}
			entities = append(entities, &store.ExtractedEntity{
				ChunkID:            chunk.ID,
				DocumentID:         chunk.DocumentID,
				Type:               r.Type,
				Text:               r.Text,
				Attributes:         r.Attributes,
				Confidence:         r.Confidence,
				CharStart:          r.CharStart,
				CharEnd:            r.CharEnd,
				VerificationStatus: "unverified",
				CreatedTs:          now,
			})
		}
	}

	return entities, nil
}

// parseEntityJSON tolerates the usual LLM decorations: code fences and
// leading prose before the array.
func parseEntityJSON(content string) ([]rawEntity, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if start := strings.Index(trimmed, "["); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndex(trimmed, "]"); end >= 0 && end < len(trimmed)-1 {
		trimmed = trimmed[:end+1]
	}

	var raw []rawEntity
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode entity array")
	}
	return raw, nil
}
