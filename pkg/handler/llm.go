// Copyright 2026 AX Platform
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/transport"
)

const (
	// DefaultLLMModel is the Claude model used when none is configured.
	DefaultLLMModel = "claude-sonnet-4-5"
	// DefaultLLMMaxTokens caps one reply.
	DefaultLLMMaxTokens = 4096
	// maxToolRounds bounds the tool-use loop within one mention.
	maxToolRounds = 5
)

// Toolbox exposes transport tools to the LLM. *transport.Session satisfies
// it.
type Toolbox interface {
	ListTools(ctx context.Context) ([]transport.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*transport.CallToolResult, error)
}

// LLMConfig configures the LLM handler.
type LLMConfig struct {
	APIKey string // falls back to ANTHROPIC_API_KEY
	Model  string
	System string
	// MaxTokens caps one reply; zero means DefaultLLMMaxTokens.
	MaxTokens int
	// Toolbox, when set, lets the model call the transport's tools.
	Toolbox Toolbox
	Logger  *zap.Logger
}

// LLM answers mentions with a Claude completion, optionally letting the
// model drive transport tools.
type LLM struct {
	client    anthropic.Client
	model     anthropic.Model
	system    string
	maxTokens int64
	toolbox   Toolbox
	logger    *zap.Logger
}

// NewLLM creates the LLM handler.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultLLMMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.System == "" {
		cfg.System = "You are a helpful agent on a shared messaging platform. " +
			"Reply concisely to the mention you receive."
	}

	return &LLM{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(cfg.Model),
		system:    cfg.System,
		maxTokens: int64(cfg.MaxTokens),
		toolbox:   cfg.Toolbox,
		logger:    cfg.Logger,
	}, nil
}

// Handle implements Handler.
func (l *LLM) Handle(ctx context.Context, msg Incoming) (string, error) {
	tools, err := l.buildTools(ctx)
	if err != nil {
		// Tools are an enhancement; answer without them.
		l.logger.Warn("tool discovery failed, answering without tools", zap.Error(err))
		tools = nil
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(
			fmt.Sprintf("Message from @%s:\n%s", msg.Sender, msg.Content))),
	}

	var reply strings.Builder
	for round := 0; round < maxToolRounds; round++ {
		resp, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     l.model,
			MaxTokens: l.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: l.system}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return "", fmt.Errorf("completion: %w", err)
		}

		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				reply.WriteString(variant.Text)
			case anthropic.ToolUseBlock:
				toolResults = append(toolResults, l.runTool(ctx, variant))
			}
		}

		if len(toolResults) == 0 || resp.StopReason != anthropic.StopReasonToolUse {
			return strings.TrimSpace(reply.String()), nil
		}

		messages = append(messages, resp.ToParam())
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	l.logger.Warn("tool round limit reached", zap.String("message_id", msg.ID))
	return strings.TrimSpace(reply.String()), nil
}

func (l *LLM) buildTools(ctx context.Context) ([]anthropic.ToolUnionParam, error) {
	if l.toolbox == nil {
		return nil, nil
	}

	tools, err := l.toolbox.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if err := json.Unmarshal(CleanToolSchema(t.InputSchema), &schema); err != nil {
			l.logger.Warn("skipping tool with unusable schema",
				zap.String("tool", t.Name), zap.Error(err))
			continue
		}

		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return out, nil
}

func (l *LLM) runTool(ctx context.Context, use anthropic.ToolUseBlock) anthropic.ContentBlockParamUnion {
	var args map[string]any
	if err := json.Unmarshal(use.Input, &args); err != nil {
		return toolResult(use.ID, fmt.Sprintf("invalid tool arguments: %v", err), true)
	}

	l.logger.Info("model tool call", zap.String("tool", use.Name))
	result, err := l.toolbox.CallTool(ctx, use.Name, args)
	if err != nil {
		return toolResult(use.ID, err.Error(), true)
	}
	return toolResult(use.ID, result.Text(), false)
}

func toolResult(toolUseID, text string, isError bool) anthropic.ContentBlockParamUnion {
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: toolUseID,
			IsError:   anthropic.Bool(isError),
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: text}},
			},
		},
	}
}
