// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider to script the chunk stream returned by StreamCompletion and to
// inspect the requests that were made. Each StreamCompletion call consumes the
// next entry from Streams; when Streams is exhausted, the last entry repeats.
package mock

import (
	"context"
	"sync"

	"github.com/voxwire/voxwire/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Streams holds scripted chunk sequences consumed by successive
	// StreamCompletion calls.
	Streams [][]llm.Chunk

	// StreamErr, if non-nil, is returned as the start error of StreamCompletion.
	StreamErr error

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by Complete.
	CompleteErr error

	// StreamRequests records every StreamCompletion request in order.
	StreamRequests []llm.CompletionRequest

	// CompleteRequests records every Complete request in order.
	CompleteRequests []llm.CompletionRequest

	streamIdx int
}

// StreamCompletion records the request and plays back the next scripted chunk
// sequence on the returned channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamRequests = append(p.StreamRequests, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var chunks []llm.Chunk
	if len(p.Streams) > 0 {
		idx := p.streamIdx
		if idx >= len(p.Streams) {
			idx = len(p.Streams) - 1
		}
		chunks = p.Streams[idx]
		p.streamIdx++
	}
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the request and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteRequests = append(p.CompleteRequests, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
