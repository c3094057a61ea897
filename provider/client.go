package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/fileutils"
)

// Client wraps the Responses API for the structured calls made by the pipeline.
type Client struct {
	api   *openai.Client
	Model string

	// ServiceTier defaults to flex.
	ServiceTier responses.ResponseNewParamsServiceTier
	Retry       RetryPolicy

	Logger *zap.Logger
}

// NewClient builds a client. Extra request options (base URL, HTTP client) are passed through.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	api := openai.NewClient(opts...)
	return &Client{
		api:         &api,
		Model:       model,
		ServiceTier: responses.ResponseNewParamsServiceTierFlex,
		Retry:       DefaultRetryPolicy,
	}
}

func (c *Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// structuredCall is one strict-schema request.
type structuredCall struct {
	name            string
	description     string
	schema          map[string]interface{}
	instructions    string
	input           string
	maxOutputTokens int64
}

const truncationRetryNote = "\n\nIMPORTANT: Ensure the JSON is complete and valid. If needed, shorten lists and summaries to fit."

// complete sends call and decodes the model's JSON into out. Truncated output gets one more
// attempt with a larger token budget.
func (c *Client) complete(ctx context.Context, call structuredCall, out any) error {
	if c == nil || c.api == nil {
		return errors.New("provider: client is nil")
	}
	if c.Model == "" {
		return errors.New("provider: model is empty")
	}

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        call.name,
			Schema:      call.schema,
			Strict:      openai.Bool(true),
			Description: openai.String(call.description),
			Type:        "json_schema",
		},
	}

	var lastOut string
	for attempt := 0; attempt < 2; attempt++ {
		maxOut := call.maxOutputTokens
		instructions := call.instructions
		if attempt == 1 {
			maxOut = maxOut * 7 / 4
			instructions += truncationRetryNote
		}

		params := responses.ResponseNewParams{
			Model:           c.Model,
			MaxOutputTokens: openai.Int(maxOut),
			Instructions:    openai.String(instructions),
			ServiceTier:     c.ServiceTier,
			Input: responses.ResponseNewParamsInputUnion{
				OfInputItemList: []responses.ResponseInputItemUnionParam{
					responses.ResponseInputItemParamOfMessage(call.input, responses.EasyInputMessageRoleUser),
				},
			},
			Text: responses.ResponseTextConfigParam{
				Format: format,
			},
		}

		resp, err := c.Retry.Call(ctx, c.api, params)
		if err != nil {
			return fmt.Errorf("%s: %w", call.name, err)
		}

		lastOut = resp.OutputText()
		if err := fileutils.DecodeModelJSON(lastOut, out); err != nil {
			if attempt == 0 && isRecoverableModelJSONError(err) {
				c.logger().Debug("model output truncated, retrying", zap.String("call", call.name))
				continue
			}
			return fmt.Errorf("%s: unmarshal model output: %w (model_output_prefix=%q)", call.name, err, fileutils.Truncate(lastOut, 500))
		}
		return nil
	}
	return fmt.Errorf("%s: model output still invalid after retry (model_output_prefix=%q)", call.name, fileutils.Truncate(lastOut, 500))
}

func isRecoverableModelJSONError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unexpected end of json input") ||
		strings.Contains(s, "no json object found in model output")
}
