package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prismlab/prism/config"
)

type fakeTool struct {
	name   string
	invoke func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

func (t *fakeTool) Name() string { return t.name }
func (t *fakeTool) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return t.invoke(ctx, params)
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		CallTimeout: time.Second,
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	t.Parallel()
	g := New(testConfig(), nil)
	_, err := g.Invoke(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestInvokeNeverOverlaps(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight int64
	tool := &fakeTool{
		name: "slow",
		invoke: func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				cur := atomic.LoadInt64(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return map[string]interface{}{"ok": true}, nil
		},
	}
	g := New(testConfig(), nil, tool)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Invoke(context.Background(), "slow", nil); err != nil {
				t.Errorf("invoke: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&maxInFlight); got != 1 {
		t.Fatalf("expected at most 1 call in flight, saw %d", got)
	}
}

func TestInvokeAdmitsWaitersInArrivalOrder(t *testing.T) {
	t.Parallel()
	started := make(chan int, 8)
	blocker := make(chan struct{})
	tool := &fakeTool{
		name: "ordered",
		invoke: func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			id := params["id"].(int)
			started <- id
			if id == 0 {
				<-blocker
			}
			return nil, nil
		},
	}
	g := New(testConfig(), nil, tool)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = g.Invoke(context.Background(), "ordered", map[string]interface{}{"id": 0})
	}()
	<-started // holder is in

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, _ = g.Invoke(context.Background(), "ordered", map[string]interface{}{"id": id})
		}(i)
		// Give each waiter time to join the queue before the next arrives.
		time.Sleep(20 * time.Millisecond)
	}

	close(blocker)
	wg.Wait()
	close(started)

	var order []int
	for id := range started {
		order = append(order, id)
	}
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("expected %d admissions, got %v", len(want), order)
	}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("admission order %v, want %v", order, want)
		}
	}
}

func TestInvokeRetriesTransientThenDegrades(t *testing.T) {
	t.Parallel()
	var calls int64
	tool := &fakeTool{
		name: "flaky",
		invoke: func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			atomic.AddInt64(&calls, 1)
			return nil, Transient{Err: fmt.Errorf("rate limited")}
		},
	}
	g := New(testConfig(), nil, tool)

	_, err := g.Invoke(context.Background(), "flaky", nil)
	var unavail ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if unavail.Tool != "flaky" {
		t.Fatalf("unexpected tool attribution: %q", unavail.Tool)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestInvokeDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	var calls int64
	tool := &fakeTool{
		name: "broken",
		invoke: func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			atomic.AddInt64(&calls, 1)
			return nil, fmt.Errorf("bad params")
		},
	}
	g := New(testConfig(), nil, tool)

	_, err := g.Invoke(context.Background(), "broken", nil)
	var unavail ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestInvokeRecoversOnRetry(t *testing.T) {
	t.Parallel()
	var calls int64
	tool := &fakeTool{
		name: "recovering",
		invoke: func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			if atomic.AddInt64(&calls, 1) == 1 {
				return nil, Transient{Err: fmt.Errorf("blip")}
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}
	g := New(testConfig(), nil, tool)

	out, err := g.Invoke(context.Background(), "recovering", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestAcquireHonorsCancellationWhileQueued(t *testing.T) {
	t.Parallel()
	blocker := make(chan struct{})
	holding := make(chan struct{})
	tool := &fakeTool{
		name: "held",
		invoke: func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			close(holding)
			<-blocker
			return nil, nil
		},
	}
	g := New(testConfig(), nil, tool)

	go func() { _, _ = g.Invoke(context.Background(), "held", nil) }()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Invoke(ctx, "held", nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued call did not honor cancellation")
	}
	close(blocker)
}
