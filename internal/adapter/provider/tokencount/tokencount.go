// Package tokencount estimates token usage for completions whose vendor
// response carries no usage block. It wraps tiktoken-go with a per-model
// encoding cache; unknown model families approximate with the GPT-4
// encoding, and encoding failures degrade to a bytes/4 estimate.
package tokencount

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting with cached encodings.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the token count of text under the model's encoding. It
// never fails: when no encoding can be resolved it estimates four bytes per
// token.
func (c *Counter) Count(model, text string) int {
	enc, err := c.encodingFor(model)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountPrompt returns the token count of one chat turn, including the
// per-message framing overhead OpenAI-compatible APIs charge for.
func (c *Counter) CountPrompt(model, system, user string) int {
	enc, err := c.encodingFor(model)
	if err != nil {
		return (len(system) + len(user)) / 4
	}
	// 3 tokens of framing plus 1 for the role name, per message, plus the
	// 3-token assistant priming on the reply.
	n := 3
	if system != "" {
		n += 4 + len(enc.Encode(system, nil, nil))
	}
	n += 4 + len(enc.Encode(user, nil, nil))
	return n
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	key := normalize(model)

	c.mu.RLock()
	enc, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[key]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[key] = enc
	return enc, nil
}

// normalize maps vendor-prefixed model ids to tiktoken-compatible names.
func normalize(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")
	switch {
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	default:
		// Non-OpenAI families tokenize similarly enough for usage
		// estimates.
		return "gpt-4"
	}
}
