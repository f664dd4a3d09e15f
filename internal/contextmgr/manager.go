// Package contextmgr implements the Context Manager: the ordered Message
// sequence for a session, bounded by a token budget and subject to a named
// compaction strategy. It is built on top of the pure token-estimation
// primitives in internal/compaction.
package contextmgr

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/kestrelai/agentcore/internal/compaction"
	"github.com/kestrelai/agentcore/internal/model"
)

// StrategyName identifies one of the four named compaction strategies.
type StrategyName string

const (
	StrategySlidingWindowK      StrategyName = "sliding_window_K"
	StrategySlidingConservative StrategyName = "sliding_conservative"
	StrategySummarizeCoding     StrategyName = "summarize_coding"
	StrategyDropOldestPinned    StrategyName = "drop_oldest_pinned"
)

// Strategy is a compaction strategy selection plus its tunable parameters.
type Strategy struct {
	Name StrategyName

	// CompactionTarget is the fraction of MaxTokens to aim for after compaction.
	CompactionTarget float64
	// KeepRatio is the fraction of messages kept verbatim (sliding window strategies).
	KeepRatio float64
	// PreserveRecentToolPairs is the number of most recent tool-call/result
	// pairs that are never dropped.
	PreserveRecentToolPairs int
	// PreserveTaskDescription, if true, always keeps the first user message.
	PreserveTaskDescription bool
	// PinnedRoles lists roles that are never dropped by compaction.
	PinnedRoles map[model.Role]bool
}

// DefaultStrategy returns sliding_window_K with the spec's stated defaults.
func DefaultStrategy() Strategy {
	return Strategy{
		Name:                    StrategySlidingWindowK,
		CompactionTarget:        0.7,
		KeepRatio:               0.5,
		PreserveRecentToolPairs: 2,
		PreserveTaskDescription: true,
		PinnedRoles:             map[model.Role]bool{model.RoleSystem: true},
	}
}

func namedStrategy(name StrategyName) Strategy {
	s := DefaultStrategy()
	s.Name = name
	switch name {
	case StrategySlidingConservative:
		s.PreserveRecentToolPairs = 5
		s.CompactionTarget = 0.85
	case StrategySummarizeCoding:
		s.CompactionTarget = 0.6
	case StrategyDropOldestPinned:
		s.KeepRatio = 0
	}
	return s
}

// Manager owns the ordered Message sequence for exactly one session.
type Manager struct {
	mu           sync.Mutex
	systemPrompt string
	hasPrompt    bool
	messages     []model.Message
	maxTokens    int
	strategy     Strategy
}

// New creates a Context Manager with the given token budget. A budget of 0
// uses compaction.DefaultContextWindow.
func New(maxTokens int) *Manager {
	if maxTokens <= 0 {
		maxTokens = compaction.DefaultContextWindow
	}
	return &Manager{maxTokens: maxTokens, strategy: DefaultStrategy()}
}

// SetSystemPrompt sets the session's system prompt, logically first and
// never compacted.
func (m *Manager) SetSystemPrompt(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = s
	m.hasPrompt = true
}

// SystemPrompt returns the current system prompt, if any.
func (m *Manager) SystemPrompt() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemPrompt, m.hasPrompt
}

// Clear drops all messages except the system prompt, if one is set.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// SetStrategy selects the compaction strategy by name with its defaults.
func (m *Manager) SetStrategy(name StrategyName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = namedStrategy(name)
}

// SetStrategyObject sets a fully custom strategy object.
func (m *Manager) SetStrategyObject(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = s
}

// GetStrategyName returns the active strategy's name.
func (m *Manager) GetStrategyName() StrategyName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy.Name
}

// AddMessage appends m, preserving the tool-call/tool-result pairing
// invariant, then compacts if the estimated size exceeds the budget.
func (m *Manager) AddMessage(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if m.estimateTokensLocked() > m.maxTokens {
		m.compactLocked()
	}
}

// GetMessages returns the current ordered list, excluding the system
// prompt (which is conveyed to engines separately).
func (m *Manager) GetMessages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// EstimateTokens returns a cheap approximation of the current context size.
func (m *Manager) EstimateTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateTokensLocked()
}

func (m *Manager) estimateTokensLocked() int {
	total := 0
	if m.hasPrompt {
		total += compaction.EstimateTokens(&compaction.Message{Content: m.systemPrompt})
	}
	for i := range m.messages {
		total += estimateMessageTokens(&m.messages[i])
	}
	return total
}

func estimateMessageTokens(msg *model.Message) int {
	toolCallsJSON := ""
	if len(msg.ToolCalls) > 0 {
		if b, err := json.Marshal(msg.ToolCalls); err == nil {
			toolCallsJSON = string(b)
		}
	}
	return compaction.EstimateTokens(&compaction.Message{
		Content:   msg.Content,
		ToolCalls: toolCallsJSON,
	})
}

// unit is an atomic block of messages that compaction must keep or drop
// together: a bare message, or an assistant-with-tool_calls plus all of
// its matching tool-role messages.
type unit struct {
	messages []model.Message
	pinned   bool
	tokens   int
}

func buildUnits(messages []model.Message, pinnedRoles map[model.Role]bool) []unit {
	var units []unit
	i := 0
	for i < len(messages) {
		msg := messages[i]
		if msg.HasToolCalls() {
			ids := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				ids[tc.ID] = true
			}
			group := []model.Message{msg}
			j := i + 1
			for j < len(messages) && messages[j].Role == model.RoleTool && ids[messages[j].ToolCallID] {
				group = append(group, messages[j])
				j++
			}
			units = append(units, unit{messages: group, tokens: sumTokens(group)})
			i = j
			continue
		}
		pinned := pinnedRoles[msg.Role]
		units = append(units, unit{messages: []model.Message{msg}, pinned: pinned, tokens: estimateMessageTokens(&msg)})
		i++
	}
	return units
}

func sumTokens(msgs []model.Message) int {
	total := 0
	for i := range msgs {
		total += estimateMessageTokens(&msgs[i])
	}
	return total
}

// compactLocked applies the active strategy. Must be called with m.mu held.
func (m *Manager) compactLocked() {
	s := m.strategy
	budget := int(float64(m.maxTokens) * nonZero(s.CompactionTarget, 0.7))

	units := buildUnits(m.messages, s.PinnedRoles)
	if len(units) == 0 {
		return
	}

	taskUnitIdx := -1
	if s.PreserveTaskDescription {
		for idx, u := range units {
			if len(u.messages) == 1 && u.messages[0].Role == model.RoleUser {
				taskUnitIdx = idx
				break
			}
		}
	}

	keep := make([]bool, len(units))
	for i, u := range units {
		if u.pinned {
			keep[i] = true
		}
	}
	if taskUnitIdx >= 0 {
		keep[taskUnitIdx] = true
	}

	// Always preserve the most recent N tool-call/result pairs, counting an
	// assistant tool_calls message whose results have not arrived yet.
	preserved := 0
	for i := len(units) - 1; i >= 0 && preserved < s.PreserveRecentToolPairs; i-- {
		if units[i].messages[0].HasToolCalls() {
			keep[i] = true
			preserved++
		}
	}

	if s.Name == StrategySummarizeCoding {
		var dropped []model.Message
		for i, u := range units {
			if !keep[i] {
				dropped = append(dropped, u.messages...)
			}
		}
		kept := make([]model.Message, 0, len(m.messages))
		summaryInserted := false
		for i, u := range units {
			if keep[i] {
				kept = append(kept, u.messages...)
			} else if !summaryInserted && len(dropped) > 0 {
				kept = append(kept, model.Message{
					Role:    model.RoleSystem,
					Content: "[SUMMARY of " + strconv.Itoa(len(dropped)) + " earlier messages]",
				})
				summaryInserted = true
			}
		}
		m.messages = kept
		return
	}

	// sliding_window_K / sliding_conservative / drop_oldest_pinned: keep
	// a verbatim tail of units within budget, working backwards from the
	// end, plus whatever is already force-kept above. At least KeepRatio of
	// the units are kept even past the budget; drop_oldest_pinned sets
	// KeepRatio to 0, so for it only the budget limits the tail.
	runningTokens := 0
	for i := 0; i < len(units); i++ {
		if keep[i] {
			runningTokens += units[i].tokens
		}
	}

	keepRatio := s.KeepRatio
	minVerbatim := int(float64(len(units)) * keepRatio)

	for i := len(units) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		wouldExceed := runningTokens+units[i].tokens > budget
		haveEnoughVerbatim := countKept(keep) >= minVerbatim
		if wouldExceed && haveEnoughVerbatim {
			continue
		}
		keep[i] = true
		runningTokens += units[i].tokens
	}

	kept := make([]model.Message, 0, len(m.messages))
	for i, u := range units {
		if keep[i] {
			kept = append(kept, u.messages...)
		}
	}
	m.messages = kept
}

func countKept(keep []bool) int {
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	return n
}

func nonZero(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
