package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/topic-finder/internal/llm"
)

// Client replays queued responses; the last response repeats once the queue drains.
type Client struct {
	mu        sync.Mutex
	Responses []llm.ChatResponse
	Err       error
	Calls     []llm.ChatRequest
}

func (c *Client) ChatCompletion(ctx context.Context, request llm.ChatRequest) (llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, request)
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}
	if c.Err != nil {
		return llm.ChatResponse{}, c.Err
	}
	if len(c.Responses) == 0 {
		return llm.ChatResponse{}, nil
	}
	response := c.Responses[0]
	if len(c.Responses) > 1 {
		c.Responses = c.Responses[1:]
	}
	return response, nil
}

// CallCount returns the number of recorded calls.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
