// Package mock provides a configurable clone.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/narratale/voicesmith/pkg/provider/clone"
)

// Call records the arguments of one TrainVoice invocation.
type Call struct {
	UserID  string
	Samples []clone.Sample
}

// Provider is a mock clone.Provider. Set TrainFunc to control behaviour;
// the zero value returns an empty result and nil error. Safe for concurrent
// use.
type Provider struct {
	// TrainFunc, if set, is invoked by TrainVoice.
	TrainFunc func(ctx context.Context, userID string, samples []clone.Sample) (clone.TrainResult, error)

	mu    sync.Mutex
	calls []Call
}

// Compile-time interface check.
var _ clone.Provider = (*Provider)(nil)

// Name reports "mock".
func (p *Provider) Name() string { return "mock" }

// TrainVoice records the call and delegates to TrainFunc.
func (p *Provider) TrainVoice(ctx context.Context, userID string, samples []clone.Sample) (clone.TrainResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{UserID: userID, Samples: samples})
	p.mu.Unlock()

	if p.TrainFunc != nil {
		return p.TrainFunc(ctx, userID, samples)
	}
	return clone.TrainResult{}, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
