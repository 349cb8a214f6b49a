package translate

import (
	"strings"
	"testing"

	"github.com/sovereign-gateway/core/internal/errs"
)

func TestPartProcessor_TextThenToolUseSequence(t *testing.T) {
	p := NewPartProcessor()

	events := p.ProcessEvent(map[string]interface{}{
		"candidates": []interface{}{map[string]interface{}{
			"content": map[string]interface{}{"parts": []interface{}{
				map[string]interface{}{"text": "thinking about it"},
			}},
		}},
	})
	if events[0].Event != "message_start" {
		t.Fatalf("expected first event to be message_start, got %s", events[0].Event)
	}
	if events[1].Event != "content_block_start" {
		t.Fatalf("expected content_block_start after message_start, got %s", events[1].Event)
	}

	events = p.ProcessEvent(map[string]interface{}{
		"candidates": []interface{}{map[string]interface{}{
			"content": map[string]interface{}{"parts": []interface{}{
				map[string]interface{}{"functionCall": map[string]interface{}{"name": "lookup", "args": map[string]interface{}{"q": "x"}}},
			}},
			"finishReason": "STOP",
		}},
	})
	var sawClose, sawToolStart bool
	for _, e := range events {
		if e.Event == "content_block_stop" {
			sawClose = true
		}
		if e.Event == "content_block_start" {
			block, _ := e.Data["content_block"].(map[string]interface{})
			if block["type"] == "tool_use" {
				sawToolStart = true
			}
		}
	}
	if !sawClose {
		t.Fatalf("expected the text block to close before the tool_use block opens")
	}
	if !sawToolStart {
		t.Fatalf("expected a tool_use content_block_start")
	}

	tail, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if tail[len(tail)-1].Event != "message_stop" {
		t.Fatalf("expected last event to be message_stop, got %s", tail[len(tail)-1].Event)
	}
}

func TestPartProcessor_EmptyStream(t *testing.T) {
	p := NewPartProcessor()
	_, err := p.Finish()
	if !errs.IsKind(err, errs.KindEmptyStream) {
		t.Fatalf("expected KindEmptyStream, got %v", err)
	}
}

func TestOpenAIStreamState_EmptyStream(t *testing.T) {
	s := &OpenAIStreamState{Model: "gpt-4"}
	_, err := s.Finish()
	if !errs.IsKind(err, errs.KindEmptyStream) {
		t.Fatalf("expected KindEmptyStream, got %v", err)
	}
}

func TestScanGeminiSSE_BuffersAcrossChunks(t *testing.T) {
	input := `data: {"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}

data: [DONE]

`
	var seen int
	err := ScanGeminiSSE(strings.NewReader(input), func(chunk map[string]interface{}) {
		seen++
	}, nil)
	if err != nil {
		t.Fatalf("ScanGeminiSSE() error = %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected exactly 1 event before [DONE], got %d", seen)
	}
}

func TestScanGeminiSSE_ParseErrorDoesNotStopScan(t *testing.T) {
	input := "data: not-json\n\ndata: {\"candidates\":[]}\n\n"
	var parseErrs, events int
	err := ScanGeminiSSE(strings.NewReader(input), func(chunk map[string]interface{}) {
		events++
	}, func(e error) {
		parseErrs++
	})
	if err != nil {
		t.Fatalf("ScanGeminiSSE() error = %v", err)
	}
	if parseErrs != 1 {
		t.Fatalf("expected 1 parse error, got %d", parseErrs)
	}
	if events != 1 {
		t.Fatalf("expected scan to continue past the parse error, got %d events", events)
	}
}

func TestSyntheticAnthropicStream_EndsWithMessageStop(t *testing.T) {
	events := SyntheticAnthropicStream("cached reply")
	if events[len(events)-1].Event != "message_stop" {
		t.Fatalf("expected terminal message_stop, got %s", events[len(events)-1].Event)
	}
}
