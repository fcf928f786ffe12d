// Package adapter translates between the OpenAI chat-completion wire shape
// the gateway speaks and the Anthropic Messages shape, and extracts usage
// token counts from upstream responses. All translation happens on raw JSON
// so unknown request fields survive the trip untouched.
package adapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const defaultMaxTokens = 4096

// Usage holds token counts reported by an upstream provider.
type Usage struct {
	InputTokens  uint64
	OutputTokens uint64
}

// ─── Wire shapes ─────────────────────────────────────────────────────────────

type (
	openAIMessage struct {
		Role       string           `json:"role"`
		Content    json.RawMessage  `json:"content"`
		ToolCalls  []openAIToolCall `json:"tool_calls"`
		ToolCallID string           `json:"tool_call_id"`
	}

	openAIToolCall struct {
		ID       string         `json:"id"`
		Type     string         `json:"type"`
		Function openAIFunction `json:"function"`
	}

	openAIFunction struct {
		Name string `json:"name"`
		// Arguments is a JSON-encoded string on the OpenAI wire but some
		// clients send a bare object; both forms are accepted.
		Arguments json.RawMessage `json:"arguments"`
	}

	openAIContentPart struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	openAIToolDef struct {
		Type     string            `json:"type"`
		Function openAIFunctionDef `json:"function"`
	}

	openAIFunctionDef struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	}
)

type (
	anthropicRequest struct {
		Model         string               `json:"model"`
		Messages      []anthropicMessage   `json:"messages"`
		System        string               `json:"system,omitempty"`
		MaxTokens     int64                `json:"max_tokens"`
		Temperature   json.RawMessage      `json:"temperature,omitempty"`
		TopP          json.RawMessage      `json:"top_p,omitempty"`
		Stream        json.RawMessage      `json:"stream,omitempty"`
		StopSequences json.RawMessage      `json:"stop_sequences,omitempty"`
		Tools         []anthropicTool      `json:"tools,omitempty"`
		ToolChoice    *anthropicToolChoice `json:"tool_choice,omitempty"`
	}

	anthropicMessage struct {
		Role    string           `json:"role"`
		Content []anthropicBlock `json:"content"`
	}

	// anthropicBlock is a content block: text, tool_use or tool_result.
	anthropicBlock struct {
		Type      string          `json:"type"`
		Text      string          `json:"text,omitempty"`
		ID        string          `json:"id,omitempty"`
		Name      string          `json:"name,omitempty"`
		Input     json.RawMessage `json:"input,omitempty"`
		ToolUseID string          `json:"tool_use_id,omitempty"`
		Content   string          `json:"content,omitempty"`
	}

	anthropicTool struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"input_schema"`
	}

	anthropicToolChoice struct {
		Type string `json:"type"`
		Name string `json:"name,omitempty"`
	}

	anthropicResponse struct {
		ID         string           `json:"id"`
		Model      string           `json:"model"`
		Content    []anthropicBlock `json:"content"`
		StopReason string           `json:"stop_reason"`
		Usage      anthropicUsage   `json:"usage"`
	}

	anthropicUsage struct {
		InputTokens  uint64 `json:"input_tokens"`
		OutputTokens uint64 `json:"output_tokens"`
	}
)

type (
	chatCompletion struct {
		ID      string       `json:"id"`
		Object  string       `json:"object"`
		Created int64        `json:"created"`
		Model   string       `json:"model"`
		Choices []chatChoice `json:"choices"`
		Usage   chatUsage    `json:"usage"`
	}

	chatChoice struct {
		Index        int        `json:"index"`
		Message      chatOutMsg `json:"message"`
		FinishReason string     `json:"finish_reason"`
	}

	chatOutMsg struct {
		Role      string           `json:"role"`
		Content   *string          `json:"content"`
		ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
	}

	chatUsage struct {
		PromptTokens     uint64 `json:"prompt_tokens"`
		CompletionTokens uint64 `json:"completion_tokens"`
		TotalTokens      uint64 `json:"total_tokens"`
	}
)

// ─── Egress: OpenAI request → Anthropic request ─────────────────────────────

// BuildAnthropicRequest converts an OpenAI-shaped chat request into the
// Anthropic Messages body. System turns are lifted into the top-level system
// field, assistant tool calls become tool_use blocks, tool-role turns become
// user-side tool_result blocks, and the recognized sampling extras are mapped
// onto their Anthropic equivalents.
func BuildAnthropicRequest(model string, messages []json.RawMessage, extras map[string]json.RawMessage) ([]byte, error) {
	out := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokensFromExtras(extras),
	}

	for i, raw := range messages {
		var msg openAIMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("adapter: message %d: %w", i, err)
		}

		switch strings.ToLower(msg.Role) {
		case "system", "developer":
			text := contentText(msg.Content)
			if text == "" {
				continue
			}
			if out.System != "" {
				out.System += "\n"
			}
			out.System += text

		case "tool":
			out.Messages = append(out.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   contentText(msg.Content),
				}},
			})

		default:
			role := "user"
			if strings.ToLower(msg.Role) == "assistant" {
				role = "assistant"
			}
			blocks := textBlocks(msg.Content)
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: toolArguments(tc.Function.Arguments),
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: role, Content: blocks})
		}
	}

	out.Temperature = extras["temperature"]
	out.TopP = extras["top_p"]
	out.Stream = extras["stream"]
	out.StopSequences = stopSequences(extras["stop"])
	out.Tools = convertTools(extras["tools"])
	out.ToolChoice = convertToolChoice(extras["tool_choice"])

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("adapter: encode request: %w", err)
	}
	return body, nil
}

// maxTokensFromExtras reads max_tokens (or max_completion_tokens) from the
// request extras. Anthropic requires the field, so absent or unparseable
// values fall back to a fixed default.
func maxTokensFromExtras(extras map[string]json.RawMessage) int64 {
	for _, key := range []string{"max_tokens", "max_completion_tokens"} {
		raw, ok := extras[key]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			return n
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
			return int64(f)
		}
	}
	return defaultMaxTokens
}

// contentText flattens a message content value to plain text: strings are
// taken whole, array contents contribute their text parts joined by
// newlines. Anything else yields "".
func contentText(raw json.RawMessage) string {
	switch firstByte(raw) {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return ""
		}
		var parts []string
		for _, item := range items {
			var part openAIContentPart
			if err := json.Unmarshal(item, &part); err == nil && part.Type == "text" {
				parts = append(parts, part.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// textBlocks converts a message content value into Anthropic text blocks,
// one per text part, preserving part boundaries.
func textBlocks(raw json.RawMessage) []anthropicBlock {
	switch firstByte(raw) {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return []anthropicBlock{{Type: "text", Text: s}}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		var blocks []anthropicBlock
		for _, item := range items {
			var part openAIContentPart
			if err := json.Unmarshal(item, &part); err == nil && part.Type == "text" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: part.Text})
			}
		}
		return blocks
	}
	return nil
}

// toolArguments normalizes an OpenAI function-call arguments value into the
// object Anthropic expects: the wire form is a JSON-encoded string, but a
// bare object is accepted too.
func toolArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	if firstByte(raw) == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil && inner != "" {
			return json.RawMessage(inner)
		}
		return json.RawMessage(`{}`)
	}
	return raw
}

// stopSequences maps the OpenAI stop value (string or array) onto Anthropic
// stop_sequences (always an array).
func stopSequences(raw json.RawMessage) json.RawMessage {
	switch firstByte(raw) {
	case '"':
		seq := make(json.RawMessage, 0, len(raw)+2)
		seq = append(seq, '[')
		seq = append(seq, raw...)
		return append(seq, ']')
	case '[':
		return raw
	}
	return nil
}

func convertTools(raw json.RawMessage) []anthropicTool {
	if len(raw) == 0 {
		return nil
	}
	var defs []openAIToolDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil
	}
	tools := make([]anthropicTool, 0, len(defs))
	for _, def := range defs {
		if def.Function.Name == "" {
			continue
		}
		schema := def.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{}`)
		}
		tools = append(tools, anthropicTool{
			Name:        def.Function.Name,
			Description: def.Function.Description,
			InputSchema: schema,
		})
	}
	if len(tools) == 0 {
		return nil
	}
	return tools
}

// convertToolChoice maps OpenAI tool_choice onto the Anthropic form:
// "auto" → auto, "required" → any, a named function → tool. "none" and
// unrecognized values are dropped.
func convertToolChoice(raw json.RawMessage) *anthropicToolChoice {
	if len(raw) == 0 {
		return nil
	}
	if firstByte(raw) == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		switch s {
		case "auto":
			return &anthropicToolChoice{Type: "auto"}
		case "required":
			return &anthropicToolChoice{Type: "any"}
		}
		return nil
	}
	var choice struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil || choice.Function.Name == "" {
		return nil
	}
	return &anthropicToolChoice{Type: "tool", Name: choice.Function.Name}
}

// ─── Ingress: Anthropic response → OpenAI response ──────────────────────────

// DecodeAnthropicResponse converts an Anthropic Messages response into the
// OpenAI chat-completion shape and reports its token usage. On a parse
// failure the caller is expected to pass the raw bytes through unchanged.
func DecodeAnthropicResponse(body []byte) ([]byte, Usage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Usage{}, fmt.Errorf("adapter: decode response: %w", err)
	}

	var text strings.Builder
	var toolCalls []openAIToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, err := json.Marshal(string(block.Input))
			if err != nil {
				args = []byte(`"{}"`)
			}
			toolCalls = append(toolCalls, openAIToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openAIFunction{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}

	msg := chatOutMsg{Role: "assistant", ToolCalls: toolCalls}
	if content := text.String(); content != "" || len(toolCalls) == 0 {
		msg.Content = &content
	}

	usage := Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	out := chatCompletion{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReason(resp.StopReason),
		}},
		Usage: chatUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		},
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("adapter: encode response: %w", err)
	}
	return encoded, usage, nil
}

func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	}
	return stopReason
}

// ExtractOpenAIUsage opportunistically reads usage counts from an
// OpenAI-shaped response body. The second return is false when the body does
// not carry a usage object.
func ExtractOpenAIUsage(body []byte) (Usage, bool) {
	var resp struct {
		Usage *struct {
			PromptTokens     uint64 `json:"prompt_tokens"`
			CompletionTokens uint64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}, false
	}
	return Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, true
}

func firstByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
