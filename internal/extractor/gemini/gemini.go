// Package gemini extracts bulletin records with a Gemini structured-output call.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// MaxInputRunes caps the text sent to the model. Longer input is truncated.
const MaxInputRunes = 5000

const promptTemplate = `Instruction:
Extract the title, bus numbers, and content from the following text.
If there are multiple sections, extract each of them as a separate object.
The title should be a concise summary of the content.
Do not rephrase or edit the content unless it is grammatically incorrect.
Text:
`

// Config configures the extractor.
type Config struct {
	APIKey string
	Model  string
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor implements bulletin.Extractor. Each call makes exactly one model request.
type Extractor struct {
	models   generator
	model    string
	validate *validator.Validate
	logger   *zap.Logger
}

// New connects to the Gemini API.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: ai.api_key is required", bulletin.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithGenerator(client.Models, cfg.Model, logger), nil
}

func newWithGenerator(models generator, model string, logger *zap.Logger) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		models:   models,
		model:    model,
		validate: newValidator(),
		logger:   logger.Named("gemini"),
	}
}

// Extract sends text to the model and validates the structured response.
func (e *Extractor) Extract(ctx context.Context, text string) ([]bulletin.Record, error) {
	resp, err := e.models.GenerateContent(ctx, e.model, genai.Text(Prompt(text)), responseConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: generate content: %w", bulletin.ErrExtraction, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty model response", bulletin.ErrExtraction)
	}
	records, err := e.Decode(resp.Text())
	if err != nil {
		e.logger.Warn("model response rejected", zap.String("model", e.model), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("extracted records", zap.String("model", e.model), zap.Int("records", len(records)))
	return records, nil
}

// Prompt builds the instruction for text, truncated to MaxInputRunes.
func Prompt(text string) string {
	return promptTemplate + truncate(text, MaxInputRunes)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func responseConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":   {Type: genai.TypeString, Description: "Title"},
					"content": {Type: genai.TypeString, Description: "Content"},
					"buses": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "List of bus numbers mentioned in the content. If none, return an empty array.",
					},
				},
				Required:         []string{"title", "content", "buses"},
				PropertyOrdering: []string{"title", "content", "buses"},
			},
		},
	}
}

// aiRecord mirrors the response schema. Pointers distinguish a missing
// field from an empty string.
type aiRecord struct {
	Title   *string  `json:"title" validate:"required"`
	Content *string  `json:"content" validate:"required"`
	Buses   []string `json:"buses" validate:"required,dive"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses and validates a raw model response. Empty output is an
// empty result; anything that does not match the schema is rejected whole.
func (e *Extractor) Decode(raw string) ([]bulletin.Record, error) {
	if strings.TrimSpace(raw) == "" {
		return []bulletin.Record{}, nil
	}

	var items []*aiRecord
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &bulletin.SchemaValidationError{Diagnostics: []string{fmt.Sprintf("decode: %v", err)}}
	}
	if items == nil {
		return nil, &bulletin.SchemaValidationError{Diagnostics: []string{"expected array, got null"}}
	}

	var diagnostics []string
	records := make([]bulletin.Record, 0, len(items))
	for i, item := range items {
		if item == nil {
			diagnostics = append(diagnostics, fmt.Sprintf("[%d]: expected object, got null", i))
			continue
		}
		if err := e.validate.Struct(item); err != nil {
			diagnostics = append(diagnostics, describe(i, err)...)
			continue
		}
		records = append(records, bulletin.Record{
			Title:   *item.Title,
			Content: *item.Content,
			Buses:   item.Buses,
		})
	}
	if len(diagnostics) > 0 {
		return nil, &bulletin.SchemaValidationError{Diagnostics: diagnostics}
	}
	return records, nil
}

func describe(index int, err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{fmt.Sprintf("[%d]: %v", index, err)}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, fmt.Sprintf("[%d].%s: failed %q", index, fe.Field(), fe.Tag()))
	}
	return out
}
