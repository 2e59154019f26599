package agent

import (
	"encoding/json"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Use the offline BPE loader so encoding construction never makes a network
// call, which otherwise happens on first use in a container with no egress.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// tokenCounter wraps a single cached cl100k_base encoding, the encoding used
// by the chat-completion-era model families this agent targets.
type tokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func newTokenCounter() (*tokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &tokenCounter{enc: enc}, nil
}

func (c *tokenCounter) count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tokenCounter) countMessage(m domain.Message) int {
	total := c.count(m.Content) + 4 // per-message role/structure overhead
	for _, tc := range m.Metadata.ToolCalls {
		b, _ := json.Marshal(tc.Args)
		total += c.count(tc.Name) + c.count(string(b))
	}
	return total
}

func (c *tokenCounter) countAll(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += c.countMessage(m)
	}
	return total
}

// trimToBudget drops the oldest non-system messages until the conversation
// fits within budget tokens, keeping the system prompt (messages[0]) intact.
func (c *tokenCounter) trimToBudget(messages []domain.Message, budget int) []domain.Message {
	if len(messages) == 0 {
		return messages
	}
	trimmed := messages
	for c.countAll(trimmed) > budget && len(trimmed) > 2 {
		trimmed = append(append([]domain.Message{}, trimmed[:1]...), trimmed[2:]...)
	}
	return trimmed
}
