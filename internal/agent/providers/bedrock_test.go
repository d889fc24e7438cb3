package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

func TestBedrockModelPrefersRequestOverDefault(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	if got := p.model(&agent.CompletionRequest{}); got != p.defaultModel {
		t.Fatalf("model() = %q, want default", got)
	}
	if got := p.model(&agent.CompletionRequest{Model: "amazon.titan-text-express-v1"}); got != "amazon.titan-text-express-v1" {
		t.Fatalf("model() = %q, want explicit override", got)
	}
}

func TestBedrockImageFormat(t *testing.T) {
	tests := []struct {
		mediaType string
		want      types.ImageFormat
		ok        bool
	}{
		{"image/png", types.ImageFormatPng, true},
		{"image/jpeg", types.ImageFormatJpeg, true},
		{"image/jpg", types.ImageFormatJpeg, true},
		{"image/gif", types.ImageFormatGif, true},
		{"image/webp", types.ImageFormatWebp, true},
		{"image/tiff", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			got, ok := bedrockImageFormat(tt.mediaType)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Fatalf("bedrockImageFormat(%q) = (%v, %v), want (%v, %v)", tt.mediaType, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestConvertBedrockMessagesText(t *testing.T) {
	messages := []agent.Message{
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleAssistant, Content: "hello"},
	}
	out, err := convertBedrockMessages(messages)
	if err != nil {
		t.Fatalf("convertBedrockMessages() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("convertBedrockMessages() returned %d, want 2", len(out))
	}
	if out[0].Role != types.ConversationRoleUser {
		t.Fatalf("role = %v, want user", out[0].Role)
	}
	if out[1].Role != types.ConversationRoleAssistant {
		t.Fatalf("role = %v, want assistant", out[1].Role)
	}
	textBlock, ok := out[0].Content[0].(*types.ContentBlockMemberText)
	if !ok || textBlock.Value != "hi" {
		t.Fatalf("expected text block 'hi', got %+v", out[0].Content[0])
	}
}

func TestConvertBedrockMessagesToolResultAndToolUse(t *testing.T) {
	messages := []agent.Message{
		{
			Role: agent.RoleAssistant,
			ToolCalls: []agent.ToolCall{
				{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
			},
		},
		{Role: agent.RoleTool, ToolCallID: "call_1", Content: "42"},
	}
	out, err := convertBedrockMessages(messages)
	if err != nil {
		t.Fatalf("convertBedrockMessages() error = %v", err)
	}
	toolUse, ok := out[0].Content[0].(*types.ContentBlockMemberToolUse)
	if !ok || aws.ToString(toolUse.Value.Name) != "lookup" {
		t.Fatalf("expected tool use block, got %+v", out[0].Content[0])
	}
	toolResult, ok := out[1].Content[0].(*types.ContentBlockMemberToolResult)
	if !ok || aws.ToString(toolResult.Value.ToolUseId) != "call_1" {
		t.Fatalf("expected tool result block, got %+v", out[1].Content[0])
	}
}

func TestConvertBedrockMessagesSkipsUnsupportedImageFormat(t *testing.T) {
	messages := []agent.Message{
		{
			Role: agent.RoleUser,
			Blocks: []agent.ContentBlock{
				{Type: agent.BlockImage, MediaType: "image/tiff", Data: "Zm9v"},
			},
		},
	}
	out, err := convertBedrockMessages(messages)
	if err != nil {
		t.Fatalf("convertBedrockMessages() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected message with only an unsupported image to be dropped, got %+v", out)
	}
}

func TestConvertBedrockMessagesRejectsBadBase64(t *testing.T) {
	messages := []agent.Message{
		{
			Role: agent.RoleUser,
			Blocks: []agent.ContentBlock{
				{Type: agent.BlockImage, MediaType: agent.ImagePNG, Data: "not-base64!!"},
			},
		},
	}
	if _, err := convertBedrockMessages(messages); err == nil {
		t.Fatal("expected an error for invalid base64 image data")
	}
}

func TestConvertBedrockToolsEmpty(t *testing.T) {
	if got := convertBedrockTools(nil); got != nil {
		t.Fatalf("convertBedrockTools(nil) = %+v, want nil", got)
	}
}

func TestConvertBedrockToolsBuildsSpec(t *testing.T) {
	tools := []agent.ToolDefinition{
		{Name: "lookup", Description: "look up", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	cfg := convertBedrockTools(tools)
	if cfg == nil || len(cfg.Tools) != 1 {
		t.Fatalf("convertBedrockTools() = %+v", cfg)
	}
	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok || aws.ToString(spec.Value.Name) != "lookup" {
		t.Fatalf("expected tool spec for lookup, got %+v", cfg.Tools[0])
	}
}

func TestBedrockIsRetryableError(t *testing.T) {
	p := &BedrockProvider{}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttled", errors.New("ThrottlingException: rate exceeded"), true},
		{"unavailable", errors.New("ServiceUnavailableException"), true},
		{"unrelated", errors.New("ValidationException: bad input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.isRetryableError(tt.err); got != tt.want {
				t.Fatalf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBedrockWrapError(t *testing.T) {
	p := &BedrockProvider{}
	if got := p.wrapError(nil, "model"); got != nil {
		t.Fatalf("wrapError(nil) = %v, want nil", got)
	}
	err := p.wrapError(errors.New("boom"), "model-x")
	pe, ok := GetProviderError(err)
	if !ok || pe.Provider != "bedrock" || pe.Model != "model-x" {
		t.Fatalf("wrapError() = %+v", pe)
	}
}
