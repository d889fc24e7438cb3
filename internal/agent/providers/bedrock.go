package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// BedrockProvider implements agent.Provider / agent.StreamingToolProvider
// for AWS Bedrock's Converse/ConverseStream API, giving access to
// foundation models (Anthropic Claude, Amazon Titan, Meta Llama, Mistral,
// Cohere) hosted on Bedrock under one uniform wire contract. The runtime
// client is built eagerly in NewBedrockProvider from the standard AWS SDK
// credential chain; it is not deferred to first use, but no network call is
// made until the first request.
type BedrockProvider struct {
	BaseProvider
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

// BedrockConfig configures the Bedrock adapter. Region defaults to
// us-east-1; AccessKeyID/SecretAccessKey/SessionToken are optional — when
// empty the default AWS credential chain (env, shared config, IAM role)
// is used.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrockProvider constructs the adapter, eagerly resolving AWS
// credentials and region but deferring any network call until the first
// Complete/Stream.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		BaseProvider: NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Provider: "bedrock", ContextWindow: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Provider: "bedrock", ContextWindow: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Provider: "bedrock", ContextWindow: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true},
		{ID: "amazon.titan-text-express-v1", Provider: "bedrock", ContextWindow: 8192, MaxOutputTokens: 4096},
		{ID: "meta.llama3-70b-instruct-v1:0", Provider: "bedrock", ContextWindow: 8192, MaxOutputTokens: 2048, SupportsTools: true},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Provider: "bedrock", ContextWindow: 32768, MaxOutputTokens: 4096},
		{ID: "cohere.command-r-plus-v1:0", Provider: "bedrock", ContextWindow: 128000, MaxOutputTokens: 4096, SupportsTools: true},
	}
}

func (p *BedrockProvider) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func (p *BedrockProvider) MaxTokensForModel(string) int { return 200000 }

func (p *BedrockProvider) model(req *agent.CompletionRequest) string {
	if req.Model == "" {
		return p.defaultModel
	}
	return req.Model
}

func convertBedrockMessages(messages []agent.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var content []types.ContentBlock

		if len(msg.Blocks) > 0 {
			for _, b := range msg.Blocks {
				switch b.Type {
				case agent.BlockText:
					content = append(content, &types.ContentBlockMemberText{Value: b.Text})
				case agent.BlockImage:
					format, ok := bedrockImageFormat(string(b.MediaType))
					if !ok {
						continue
					}
					data, err := base64.StdEncoding.DecodeString(b.Data)
					if err != nil {
						return nil, fmt.Errorf("bedrock: decode image block: %w", err)
					}
					content = append(content, &types.ContentBlockMemberImage{
						Value: types.ImageBlock{Format: format, Source: &types.ImageSourceMemberBytes{Value: data}},
					})
				}
			}
		} else if msg.Content != "" && msg.Role != agent.RoleTool {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		if msg.Role == agent.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
				},
			})
		}

		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(tc.Arguments, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID), Name: aws.String(tc.Name), Input: document.NewLazyDocument(inputDoc),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == agent.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, nil
}

func convertBedrockTools(tools []agent.ToolDefinition) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}
}

func bedrockImageFormat(mediaType string) (types.ImageFormat, bool) {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func (p *BedrockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.LLMResponse, error) {
	ch, err := p.doStream(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return drainToResponse(ch, p.model(req))
}

func (p *BedrockProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.LLMResponse, error) {
	ch, err := p.doStream(ctx, &req.CompletionRequest, req.Tools)
	if err != nil {
		return nil, err
	}
	return drainToResponse(ch, p.model(&req.CompletionRequest))
}

func (p *BedrockProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.doStream(ctx, req, nil)
}

func (p *BedrockProvider) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.doStream(ctx, &req.CompletionRequest, req.Tools)
}

func (p *BedrockProvider) doStream(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (<-chan *agent.StreamChunk, error) {
	if p.client == nil {
		return nil, NewProviderError("bedrock", req.Model, errors.New("bedrock client not initialized"))
	}
	model := p.model(req)

	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(model), Messages: messages}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(tools) > 0 {
		converseReq.ToolConfig = convertBedrockTools(tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err = p.Retry(ctx, p.isRetryableError, func() error {
		var callErr error
		stream, callErr = p.client.ConverseStream(ctx, converseReq)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.StreamChunk)
	go p.processStream(ctx, stream, out, model)
	return out, nil
}

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- *agent.StreamChunk, model string) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var toolCalls []agent.ToolCall
	var currentID, currentName string
	var argsBuilder strings.Builder
	var usage *agent.Usage

	flush := func() {
		if currentID == "" {
			return
		}
		toolCalls = append(toolCalls, agent.ToolCall{
			ID: currentID, Type: "function", Name: currentName, Arguments: json.RawMessage(argsBuilder.String()),
		})
		currentID, currentName = "", ""
		argsBuilder.Reset()
	}

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- &agent.StreamChunk{Err: ctx.Err()}
			return
		case event, ok := <-eventChan:
			if !ok {
				flush()
				if err := eventStream.Err(); err != nil {
					out <- &agent.StreamChunk{Err: p.wrapError(err, model)}
					return
				}
				finish := agent.FinishStop
				if len(toolCalls) > 0 {
					finish = agent.FinishToolCalls
				}
				out <- &agent.StreamChunk{Done: true, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentID = aws.ToString(toolUse.Value.ToolUseId)
					currentName = aws.ToString(toolUse.Value.Name)
					argsBuilder.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- &agent.StreamChunk{Content: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						argsBuilder.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				flush()
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = &agent.Usage{
						PromptTokens:     int64(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CompletionTokens: int64(aws.ToInt32(ev.Value.Usage.OutputTokens)),
						TotalTokens:      int64(aws.ToInt32(ev.Value.Usage.TotalTokens)),
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				flush()
				finish := agent.FinishStop
				if len(toolCalls) > 0 {
					finish = agent.FinishToolCalls
				}
				out <- &agent.StreamChunk{Done: true, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}
				return
			}
		}
	}
}

func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "ServiceUnavailableException") {
		return true
	}
	lower := strings.ToLower(msg)
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}

var _ agent.Provider = (*BedrockProvider)(nil)
var _ agent.StreamingToolProvider = (*BedrockProvider)(nil)
