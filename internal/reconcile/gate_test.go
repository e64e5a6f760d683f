package reconcile

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedGateExcludesSameKey(t *testing.T) {
	g := NewKeyedGate()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := g.Lock(context.Background(), "k")
			if err != nil {
				t.Errorf("Lock() failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if g.held() != 0 {
		t.Fatalf("expected slots to be released, %d left", g.held())
	}
}

func TestKeyedGateIndependentKeys(t *testing.T) {
	g := NewKeyedGate()
	unlockA, err := g.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := g.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("different key should not block: %v", err)
	}
	unlockB()
}

func TestKeyedGateHonorsContext(t *testing.T) {
	g := NewKeyedGate()
	unlock, err := g.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op
	if g.held() != 0 {
		t.Fatalf("expected no held slots, got %d", g.held())
	}
}

func TestRedisGate(t *testing.T) {
	addr := os.Getenv("EVENTBOT_TEST_REDIS")
	if addr == "" {
		t.Skip("EVENTBOT_TEST_REDIS not set")
	}
	g := NewRedisGate(addr, 2*time.Second, quietLogger())
	defer g.Close()

	ctx := context.Background()
	if err := g.Ping(ctx); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	unlock, err := g.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, err := g.Lock(waitCtx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second lock to time out, got %v", err)
	}

	unlock()
	unlock2, err := g.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock() after release failed: %v", err)
	}
	unlock2()
}
