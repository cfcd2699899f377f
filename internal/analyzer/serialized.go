package analyzer

import (
	"context"
	"sync"

	"github.com/kozaktomas/facetrack/internal/capture"
	"github.com/kozaktomas/facetrack/internal/facematch"
)

// Pool hands out one Analyzer per execution context. Calls through the same
// context are serialized; distinct contexts run in parallel.
type Pool struct {
	mu       sync.Mutex
	next     Analyzer
	contexts map[string]*serialized
}

// NewPool wraps an analyzer.
func NewPool(next Analyzer) *Pool {
	return &Pool{next: next, contexts: make(map[string]*serialized)}
}

// For returns the analyzer bound to an execution context.
func (p *Pool) For(executionContext string) Analyzer {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.contexts[executionContext]
	if !ok {
		s = &serialized{next: p.next}
		p.contexts[executionContext] = s
	}
	return s
}

type serialized struct {
	mu   sync.Mutex
	next Analyzer
}

func (s *serialized) Analyze(ctx context.Context, frame capture.Frame) ([]facematch.FaceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Analyze(ctx, frame)
}
