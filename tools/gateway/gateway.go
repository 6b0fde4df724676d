package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/telemetry"
)

// Tool is a single external research tool reachable through the gateway.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

// ErrToolUnavailable is returned once retries are exhausted. Callers treat it
// as "no evidence from this tool", never as a fatal session error.
type ErrToolUnavailable struct {
	Tool string
	Err  error
}

func (e ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %s unavailable: %v", e.Tool, e.Err)
}

func (e ErrToolUnavailable) Unwrap() error { return e.Err }

// ErrUnknownTool is returned for tool names with no registered backend.
var ErrUnknownTool = errors.New("unknown tool")

// Transient marks an error as retryable. Tool backends wrap rate-limit and
// 5xx-style failures in this.
type Transient struct{ Err error }

func (t Transient) Error() string { return t.Err.Error() }
func (t Transient) Unwrap() error { return t.Err }

// Gateway serializes all tool calls through a single-slot admission gate.
// The downstream tool-hosting boundary enforces a hard concurrency ceiling of
// one, so no two calls may ever be in flight at once. Waiters are admitted in
// strict FIFO order.
type Gateway struct {
	cfg     config.GatewayConfig
	tools   map[string]Tool
	metrics *telemetry.Metrics
	logger  *log.Logger

	mu    sync.Mutex
	busy  bool
	queue []chan struct{}
}

// New creates a gateway over the given tool backends.
func New(cfg config.GatewayConfig, metrics *telemetry.Metrics, tools ...Tool) *Gateway {
	g := &Gateway{
		cfg:     cfg.Normalize(),
		tools:   make(map[string]Tool, len(tools)),
		metrics: metrics,
		logger:  log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
	}
	for _, t := range tools {
		g.tools[t.Name()] = t
	}
	return g
}

// Register adds a tool backend after construction.
func (g *Gateway) Register(t Tool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools[t.Name()] = t
}

// Has reports whether a backend is registered under the given name.
func (g *Gateway) Has(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tools[name]
	return ok
}

// Invoke runs one tool call through the admission gate, retrying transient
// failures with exponential backoff. Exhausted retries degrade to
// ErrToolUnavailable.
func (g *Gateway) Invoke(ctx context.Context, toolName string, params map[string]interface{}) (map[string]interface{}, error) {
	g.mu.Lock()
	tool, ok := g.tools[toolName]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}

	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if g.metrics != nil {
				g.metrics.ToolRetries.WithLabelValues(toolName).Inc()
			}
			backoff := g.cfg.BackoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		result, err := tool.Invoke(callCtx, params)
		cancel()
		if err == nil {
			if g.metrics != nil {
				g.metrics.ToolCalls.WithLabelValues(toolName, "ok").Inc()
			}
			return result, nil
		}
		lastErr = err

		var transient Transient
		retryable := errors.As(err, &transient) || errors.Is(err, context.DeadlineExceeded)
		if !retryable || ctx.Err() != nil {
			break
		}
		g.logger.Printf("tool %s attempt %d failed: %v", toolName, attempt+1, err)
	}

	if g.metrics != nil {
		g.metrics.ToolCalls.WithLabelValues(toolName, "unavailable").Inc()
	}
	return nil, ErrToolUnavailable{Tool: toolName, Err: lastErr}
}

// acquire takes the single slot, queueing in arrival order when it is held.
func (g *Gateway) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	g.queue = append(g.queue, ticket)
	g.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, t := range g.queue {
			if t == ticket {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		// Already admitted concurrently with cancellation; hand the slot on.
		g.mu.Unlock()
		g.release()
		return ctx.Err()
	}
}

// release hands the slot to the oldest waiter, or frees it. Always called,
// including on error, so a failing call can never starve the gate.
func (g *Gateway) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) > 0 {
		ticket := g.queue[0]
		g.queue = g.queue[1:]
		close(ticket)
		return
	}
	g.busy = false
}
