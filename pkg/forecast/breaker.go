package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the current state of the model circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrModelCircuitOpen is returned by a tripped breaker instead of calling the
// model. The orchestrator absorbs it like any other stage failure, so an
// unhealthy upstream degrades to instant fallbacks instead of queued
// timeouts.
var ErrModelCircuitOpen = errors.New("model circuit open")

// BreakerClient wraps a ModelClient and stops calling it after a run of
// consecutive failures. Once the reset timeout has elapsed the next call is
// let through as a probe; a successful probe closes the circuit.
type BreakerClient struct {
	client ModelClient

	mu                  sync.Mutex
	state               BreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailure         time.Time

	onStateChange func(BreakerState)
}

// NewBreakerClient wraps client with a consecutive-failure breaker.
// failureThreshold defaults to 5 and resetTimeout to 30 seconds when zero.
// onStateChange may be nil.
func NewBreakerClient(client ModelClient, failureThreshold int, resetTimeout time.Duration, onStateChange func(BreakerState)) *BreakerClient {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &BreakerClient{
		client:           client,
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

// Generate implements ModelClient. While the circuit is open it fails
// immediately with ErrModelCircuitOpen. A response with no usable payload
// (nil, nil) counts as a success for breaker purposes: the upstream answered.
func (b *BreakerClient) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (json.RawMessage, error) {
	if b.State() == BreakerOpen {
		return nil, ErrModelCircuitOpen
	}

	raw, err := b.client.Generate(ctx, systemPrompt, userPrompt, maxTokens)
	if err != nil {
		b.failure()
		return nil, err
	}
	b.success()
	return raw, nil
}

// State returns the breaker's current state.
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *BreakerClient) stateLocked() BreakerState {
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *BreakerClient) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		b.changeState(BreakerClosed)
	}
	b.consecutiveFailures = 0
}

func (b *BreakerClient) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	// Updating lastFailure re-arms the open window, so a failed half-open
	// probe keeps the circuit open.
	b.lastFailure = time.Now()
	if b.state == BreakerClosed && b.consecutiveFailures >= b.failureThreshold {
		b.changeState(BreakerOpen)
	}
}

func (b *BreakerClient) changeState(newState BreakerState) {
	if b.state != newState {
		b.state = newState
		if b.onStateChange != nil {
			b.onStateChange(newState)
		}
	}
}
