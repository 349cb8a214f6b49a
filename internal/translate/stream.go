package translate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sovereign-gateway/core/internal/errs"
)

// blockKind is the PartProcessor's state: it tracks which Anthropic
// content block (if any) is currently open, since only one can be open
// at a time and switching kinds requires closing the previous one first.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// AnthropicEvent is the tagged-union SSE event the Claude path emits.
type AnthropicEvent struct {
	Event string
	Data  map[string]interface{}
}

// Render serializes one SSE frame: "event: <type>\ndata: <json>\n\n".
func (e AnthropicEvent) Render() ([]byte, error) {
	body, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Event, body)), nil
}

// OpenAIChunkEvent is the tagged-union SSE event the OpenAI path emits.
type OpenAIChunkEvent struct {
	Chunk OpenAIStreamChunk
}

func (e OpenAIChunkEvent) Render() ([]byte, error) {
	body, err := json.Marshal(e.Chunk)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("data: %s\n\n", body)), nil
}

// PartProcessor turns a sequence of Gemini streamGenerateContent events
// into the Anthropic content_block event sequence, opening and closing
// blocks at text/thinking/toolUse boundaries.
type PartProcessor struct {
	current      blockKind
	blockIndex   int
	toolSeed     int
	sawAnyData   bool
	finishReason string
	usagePrompt  int
	usageOutput  int
	emittedStart bool
}

func NewPartProcessor() *PartProcessor { return &PartProcessor{current: blockNone} }

// Start emits message_start + the implicit first content_block_start once
// the first event arrives (Anthropic requires message_start before any
// content_block event).
func (p *PartProcessor) messageStart() []AnthropicEvent {
	if p.emittedStart {
		return nil
	}
	p.emittedStart = true
	return []AnthropicEvent{{
		Event: "message_start",
		Data: map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id": "msg_stream", "type": "message", "role": "assistant",
				"content": []interface{}{}, "model": "", "usage": map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
			},
		},
	}}
}

func (p *PartProcessor) openBlock(kind blockKind) []AnthropicEvent {
	if p.current == kind {
		return nil
	}
	var events []AnthropicEvent
	events = append(events, p.closeBlock()...)

	blockType := "text"
	if kind == blockThinking {
		blockType = "thinking"
	}
	if kind == blockToolUse {
		blockType = "tool_use"
	}
	events = append(events, AnthropicEvent{
		Event: "content_block_start",
		Data: map[string]interface{}{
			"type": "content_block_start", "index": p.blockIndex,
			"content_block": map[string]interface{}{"type": blockType},
		},
	})
	p.current = kind
	return events
}

func (p *PartProcessor) closeBlock() []AnthropicEvent {
	if p.current == blockNone {
		return nil
	}
	ev := []AnthropicEvent{{
		Event: "content_block_stop",
		Data:  map[string]interface{}{"type": "content_block_stop", "index": p.blockIndex},
	}}
	p.blockIndex++
	p.current = blockNone
	return ev
}

// ProcessEvent feeds one parsed Gemini JSON event and returns the
// Anthropic events it produces. A JSON parse error is reported by the
// caller before this is invoked; ProcessEvent itself never fails.
func (p *PartProcessor) ProcessEvent(chunk map[string]interface{}) []AnthropicEvent {
	var events []AnthropicEvent
	events = append(events, p.messageStart()...)

	respData, ok := chunk["response"].(map[string]interface{})
	if !ok {
		respData = chunk
	}
	if um, ok := respData["usageMetadata"].(map[string]interface{}); ok {
		p.usagePrompt = intFromAny(um["promptTokenCount"])
		p.usageOutput = intFromAny(um["candidatesTokenCount"])
	}

	candidates, ok := respData["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return events
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return events
	}
	if fr, ok := candidate["finishReason"].(string); ok && fr != "" {
		p.finishReason = fr
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return events
	}
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return events
	}

	for _, raw := range parts {
		part, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		p.sawAnyData = true

		if fc, ok := part["functionCall"].(map[string]interface{}); ok {
			events = append(events, p.closeBlock()...)
			p.toolSeed++
			name, _ := fc["name"].(string)
			args, _ := json.Marshal(fc["args"])
			events = append(events, AnthropicEvent{
				Event: "content_block_start",
				Data: map[string]interface{}{
					"type": "content_block_start", "index": p.blockIndex,
					"content_block": map[string]interface{}{
						"type": "tool_use", "id": generateToolUseID(p.toolSeed), "name": name,
					},
				},
			})
			p.current = blockToolUse
			events = append(events, AnthropicEvent{
				Event: "content_block_delta",
				Data: map[string]interface{}{
					"type": "content_block_delta", "index": p.blockIndex,
					"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": string(args)},
				},
			})
			continue
		}

		thought, _ := part["thought"].(bool)
		text, hasText := part["text"].(string)
		if !hasText {
			continue
		}
		kind := blockText
		if thought {
			kind = blockThinking
		}
		events = append(events, p.openBlock(kind)...)

		deltaType := "text_delta"
		deltaField := "text"
		if thought {
			deltaType = "thinking_delta"
			deltaField = "thinking"
		}
		events = append(events, AnthropicEvent{
			Event: "content_block_delta",
			Data: map[string]interface{}{
				"type": "content_block_delta", "index": p.blockIndex,
				"delta": map[string]interface{}{"type": deltaType, deltaField: text},
			},
		})
	}
	return events
}

// Finish emits the terminal event sequence. If no data was ever seen,
// it returns an EmptyStream error instead — retriable at the proxy's
// outer retry loop.
func (p *PartProcessor) Finish() ([]AnthropicEvent, error) {
	if !p.sawAnyData {
		return nil, errs.New(errs.KindEmptyStream, "Empty response stream")
	}
	var events []AnthropicEvent
	events = append(events, p.closeBlock()...)
	events = append(events, AnthropicEvent{
		Event: "message_delta",
		Data: map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]interface{}{"stop_reason": anthropicStopReason(p.finishReason)},
			"usage": map[string]interface{}{"output_tokens": p.usageOutput},
		},
	})
	events = append(events, AnthropicEvent{Event: "message_stop", Data: map[string]interface{}{"type": "message_stop"}})
	return events, nil
}

func anthropicStopReason(geminiReason string) string {
	switch geminiReason {
	case "MAX_TOKENS":
		return "max_tokens"
	case "STOP", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// ScanGeminiSSE reads `data: <json>\n\n` frames from r, calling onEvent
// per parsed JSON object and onParseError (non-fatal) on malformed
// frames. bufio.Scanner already buffers partial lines across chunks, so
// a frame split across two reads is reassembled before onEvent sees it.
func ScanGeminiSSE(r io.Reader, onEvent func(map[string]interface{}), onParseError func(error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk map[string]interface{}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if onParseError != nil {
				onParseError(err)
			}
			continue
		}
		onEvent(chunk)
	}
	return scanner.Err()
}

// OpenAIStreamState accumulates the simpler OpenAI SSE translation: one
// chunk per upstream text delta, a terminal chunk carrying finish_reason,
// then a literal "data: [DONE]\n\n".
type OpenAIStreamState struct {
	Model      string
	sawAnyData bool
}

func (s *OpenAIStreamState) ProcessEvent(chunk map[string]interface{}) *OpenAIStreamChunk {
	respData, ok := chunk["response"].(map[string]interface{})
	if !ok {
		respData = chunk
	}
	candidates, ok := respData["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return nil
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return nil
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return nil
	}
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return nil
	}
	var text string
	for _, raw := range parts {
		part, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if thought, _ := part["thought"].(bool); thought {
			continue
		}
		if t, ok := part["text"].(string); ok {
			text += t
		}
	}
	if text == "" {
		return nil
	}
	s.sawAnyData = true
	return &OpenAIStreamChunk{
		Object: "chat.completion.chunk",
		Model:  s.Model,
		Choices: []OpenAIStreamChoice{{
			Index: 0,
			Delta: OpenAIMessageOut{Content: text},
		}},
	}
}

// SyntheticAnthropicStream renders a complete cache-hit response as the
// full Anthropic SSE event sequence, so a cached response can be served
// to a streaming caller indistinguishably from a live one.
func SyntheticAnthropicStream(text string) []AnthropicEvent {
	p := NewPartProcessor()
	events := p.ProcessEvent(map[string]interface{}{
		"candidates": []interface{}{map[string]interface{}{
			"content":      map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": text}}},
			"finishReason": "STOP",
		}},
	})
	tail, _ := p.Finish()
	return append(events, tail...)
}

// SyntheticOpenAIChunk renders a complete cache-hit response as a single
// OpenAI chat.completion.chunk carrying the full text and a finish_reason.
func SyntheticOpenAIChunk(model, text string) OpenAIStreamChunk {
	stop := "stop"
	return OpenAIStreamChunk{
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []OpenAIStreamChoice{{Index: 0, Delta: OpenAIMessageOut{Content: text}, FinishReason: &stop}},
	}
}

func (s *OpenAIStreamState) Finish() (*OpenAIStreamChunk, error) {
	if !s.sawAnyData {
		return nil, errs.New(errs.KindEmptyStream, "Empty response stream")
	}
	stop := "stop"
	return &OpenAIStreamChunk{
		Object: "chat.completion.chunk",
		Model:  s.Model,
		Choices: []OpenAIStreamChoice{{Index: 0, FinishReason: &stop}},
	}, nil
}
