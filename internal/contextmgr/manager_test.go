package contextmgr

import (
	"encoding/json"
	"testing"

	"github.com/kestrelai/agentcore/internal/model"
)

func TestAddMessagePreservesOrder(t *testing.T) {
	m := New(100000)
	m.SetSystemPrompt("you are helpful")
	m.AddMessage(model.Message{Role: model.RoleUser, Content: "hello"})
	m.AddMessage(model.Message{Role: model.RoleAssistant, Content: "hi"})

	msgs := m.GetMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi" {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
	if prompt, ok := m.SystemPrompt(); !ok || prompt != "you are helpful" {
		t.Fatalf("expected system prompt to be retained")
	}
}

func TestCompactionPreservesToolCallPairs(t *testing.T) {
	m := New(50) // tiny budget forces compaction
	m.SetStrategy(StrategyDropOldestPinned)

	m.AddMessage(model.Message{Role: model.RoleUser, Content: "do the task, please handle every edge case carefully"})
	for i := 0; i < 20; i++ {
		toolCalls := []model.ToolCall{{ID: "t1", Name: "noop", Args: json.RawMessage(`{}`)}}
		m.AddMessage(model.Message{Role: model.RoleAssistant, Content: "working on it with a fairly long message", ToolCalls: toolCalls})
		m.AddMessage(model.Message{Role: model.RoleTool, Content: "ok done, here is a long result string to inflate size", ToolCallID: "t1"})
	}

	msgs := m.GetMessages()
	for i, msg := range msgs {
		if msg.Role == model.RoleTool {
			if i == 0 || !msgs[i-1].HasToolCalls() {
				t.Fatalf("tool message at %d is not preceded by its assistant tool_calls message", i)
			}
		}
	}
}

func TestCompactionKeepsTaskDescriptionWhenBudgetTiny(t *testing.T) {
	m := New(5)
	m.SetStrategy(StrategySlidingWindowK)
	m.AddMessage(model.Message{Role: model.RoleUser, Content: "the one true task description that must survive"})
	for i := 0; i < 5; i++ {
		m.AddMessage(model.Message{Role: model.RoleAssistant, Content: "filler filler filler filler"})
	}

	msgs := m.GetMessages()
	if len(msgs) == 0 || msgs[0].Content != "the one true task description that must survive" {
		t.Fatalf("expected first user message preserved, got %+v", msgs)
	}
}

func TestSummarizeCodingInsertsSyntheticNote(t *testing.T) {
	m := New(10)
	m.SetStrategy(StrategySummarizeCoding)
	m.AddMessage(model.Message{Role: model.RoleUser, Content: "task"})
	for i := 0; i < 10; i++ {
		m.AddMessage(model.Message{Role: model.RoleAssistant, Content: "a long filler reply that takes up plenty of space"})
	}
	msgs := m.GetMessages()
	found := false
	for _, msg := range msgs {
		if msg.Role == model.RoleSystem {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a synthetic [SUMMARY] system message, got %+v", msgs)
	}
}
