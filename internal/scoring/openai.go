package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"
)

const defaultOpenAIModel = "gpt-4o-mini"

const gradingInstructions = `You grade a simulated door-to-door sales conversation between a sales rep and a prospect.

You receive JSON with the transcript, deterministic instant metrics, tagged key moments and the rep's historical averages.

Decide whether the prospect agreed to buy (sale_closed) and the total contract value if one was stated.
Score overall performance and each dimension from 0 to 100. Compare against historical averages where useful.
Write concise narrative feedback, up to three strengths and three improvements, a verdict for each objection, and a short coaching plan.
Respond only with JSON matching the schema.`

// OpenAIConfig configures an OpenAIScorer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryConfig
}

// OpenAIScorer grades sessions through the OpenAI Responses API with a
// strict JSON schema derived from Result.
type OpenAIScorer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	schema  map[string]any
	retry   RetryConfig
	sleep   sleepFunc
	logger  *zap.Logger
}

// NewOpenAIScorer creates an OpenAIScorer. The client's own retries are
// disabled; RetryConfig governs them instead.
func NewOpenAIScorer(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	cfg.Retry.ApplyDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	schema, err := GenerateSchema[Result]()
	if err != nil {
		return nil, fmt.Errorf("generate result schema: %w", err)
	}

	return &OpenAIScorer{
		client:  &client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		schema:  schema,
		retry:   cfg.Retry,
		sleep:   sleepCtx,
		logger:  logger,
	}, nil
}

// Name implements Scorer.
func (o *OpenAIScorer) Name() string { return "openai" }

// Score implements Scorer.
func (o *OpenAIScorer) Score(ctx context.Context, req Request) (*Result, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal scoring request: %w", err)
	}

	params := responses.ResponseNewParams{
		Model:        o.model,
		Instructions: openai.String(gradingInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(string(input), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "SessionGrade",
					Schema:      o.schema,
					Strict:      openai.Bool(true),
					Description: openai.String("Graded sales session"),
					Type:        "json_schema",
				},
			},
		},
	}

	return withRetry(ctx, o.retry, o.sleep, o.logger, "score_session", func(ctx context.Context) (*Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		resp, err := o.client.Responses.New(callCtx, params)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		var out Result
		if err := decodeModelJSON(resp.OutputText(), &out); err != nil {
			return nil, faults.New(faults.KindParseFailure, "score_session", err)
		}
		return &out, nil
	})
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		return faults.Upstream("score_session", status, err)
	}
	return faults.Classify("score_session", err)
}

// GenerateSchema reflects T into a JSON schema accepted by strict
// structured outputs: no references, no additional properties and every
// property required.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	raw, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	makeStrict(m)
	return m, nil
}

func makeStrict(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			sort.Strings(required)
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				makeStrict(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		makeStrict(items)
	}
}

var _ Scorer = (*OpenAIScorer)(nil)
