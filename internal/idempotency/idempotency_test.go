package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryDeduperWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newMemoryDeduper(time.Hour, func() time.Time { return now })
	ctx := context.Background()

	if seen, _ := d.Seen(ctx, "yookassa:tx-1"); seen {
		t.Fatal("first sighting reported as seen")
	}
	if seen, _ := d.Seen(ctx, "yookassa:tx-1"); !seen {
		t.Fatal("second sighting not reported")
	}
	if seen, _ := d.Seen(ctx, "cryptocloud:tx-1"); seen {
		t.Fatal("keys of different providers collided")
	}

	now = now.Add(61 * time.Minute)
	if seen, _ := d.Seen(ctx, "yookassa:tx-1"); seen {
		t.Fatal("key still seen after the window")
	}
}

func TestMemoryDeduperSweeps(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newMemoryDeduper(time.Minute, func() time.Time { return now })
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, _ = d.Seen(ctx, k)
	}
	now = now.Add(2 * time.Minute)
	_, _ = d.Seen(ctx, "d")
	if got := d.size(); got != 1 {
		t.Fatalf("entries after sweep = %d, want 1", got)
	}
}

func TestMemoryDeduperConcurrentSingleWinner(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if seen, _ := d.Seen(context.Background(), "tx"); !seen {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	if fresh.Load() != 1 {
		t.Fatalf("%d callers saw the key as new, want 1", fresh.Load())
	}
}

func TestKeyedMutexExcludesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "1:germany_1")
			if err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Fatalf("max holders = %d, want 1", maxInside.Load())
	}
	if k.held() != 0 {
		t.Fatalf("%d lock entries leaked", k.held())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("different key blocked: %v", err)
	}
	unlockB()
}

func TestKeyedMutexContextTimeout(t *testing.T) {
	k := NewKeyedMutex()
	unlock, _ := k.Lock(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}

	unlock()
	unlock() // second call is a no-op
	if k.held() != 0 {
		t.Fatalf("%d lock entries leaked", k.held())
	}
}

func TestNewStoresWithoutRedis(t *testing.T) {
	d, l, err := NewStores("", "", 0, time.Hour, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*memoryDeduper); !ok {
		t.Fatalf("deduper = %T, want memory", d)
	}
	if _, ok := l.(*KeyedMutex); !ok {
		t.Fatalf("locker = %T, want keyed mutex", l)
	}
}
