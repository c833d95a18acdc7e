package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/impactlab/impactcast/pkg/quota"
	"github.com/impactlab/impactcast/storage/memory"
)

func TestStore_IncrementAndRead(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	got, err := store.Read(ctx, "user-1", "2026-08")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Count != 0 {
		t.Errorf("fresh user count = %d, want 0", got.Count)
	}

	for want := 1; want <= 3; want++ {
		counter, err := store.Increment(ctx, "user-1", "2026-08", 10)
		if err != nil {
			t.Fatalf("Increment %d failed: %v", want, err)
		}
		if counter.Count != want {
			t.Errorf("Count = %d, want %d", counter.Count, want)
		}
		if counter.Cap != 10 {
			t.Errorf("Cap = %d, want 10", counter.Cap)
		}
	}

	got, err = store.Read(ctx, "user-1", "2026-08")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Count != 3 {
		t.Errorf("Count = %d, want 3", got.Count)
	}

	// Other periods and users are isolated.
	other, _ := store.Read(ctx, "user-1", "2026-09")
	if other.Count != 0 {
		t.Errorf("next period count = %d, want 0", other.Count)
	}
	other, _ = store.Read(ctx, "user-2", "2026-08")
	if other.Count != 0 {
		t.Errorf("other user count = %d, want 0", other.Count)
	}
}

func TestStore_IncrementRejectsAtCap(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Increment(ctx, "user-1", "2026-08", 2); err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
	}

	counter, err := store.Increment(ctx, "user-1", "2026-08", 2)
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}
	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("error %T is not *ExceededError", err)
	}
	if exceeded.Count != 2 || exceeded.Cap != 2 {
		t.Errorf("ExceededError = %+v, want count 2 cap 2", exceeded)
	}
	if counter.Count != 2 {
		t.Errorf("rejected increment changed the counter: %d", counter.Count)
	}

	got, _ := store.Read(ctx, "user-1", "2026-08")
	if got.Count != 2 {
		t.Errorf("Count after rejection = %d, want 2", got.Count)
	}
}

func TestStore_ConcurrentIncrementAtomicity(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	const goroutines = 50
	const limit = 10

	type outcome struct {
		count int
		err   error
	}
	results := make(chan outcome, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counter, err := store.Increment(ctx, "user-1", "2026-08", limit)
			results <- outcome{count: counter.Count, err: err}
		}()
	}
	wg.Wait()
	close(results)

	admitted := make(map[int]bool)
	rejections := 0
	for r := range results {
		if r.err == nil {
			if admitted[r.count] {
				t.Errorf("two increments observed the same count %d", r.count)
			}
			admitted[r.count] = true
			continue
		}
		if !errors.Is(r.err, quota.ErrQuotaExceeded) {
			t.Errorf("unexpected error: %v", r.err)
		}
		rejections++
	}

	if len(admitted) != limit {
		t.Errorf("admitted %d increments, want exactly %d", len(admitted), limit)
	}
	for c := 1; c <= limit; c++ {
		if !admitted[c] {
			t.Errorf("no increment observed count %d", c)
		}
	}
	if rejections != goroutines-limit {
		t.Errorf("rejections = %d, want %d", rejections, goroutines-limit)
	}

	final, err := store.Read(ctx, "user-1", "2026-08")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if final.Count != limit {
		t.Errorf("final count = %d, want %d", final.Count, limit)
	}
}

func TestStore_Clear(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, _ = store.Increment(ctx, "user-1", "2026-08", 5)
	store.Clear()

	got, _ := store.Read(ctx, "user-1", "2026-08")
	if got.Count != 0 {
		t.Errorf("Count after Clear = %d, want 0", got.Count)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Increment(ctx, "user-1", "2026-08", 5); !errors.Is(err, quota.ErrStoreUnavailable) {
		t.Errorf("Increment error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.Read(ctx, "user-1", "2026-08"); !errors.Is(err, quota.ErrStoreUnavailable) {
		t.Errorf("Read error = %v, want ErrStoreUnavailable", err)
	}
}
