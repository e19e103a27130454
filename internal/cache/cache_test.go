package cache

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%t err=%v, want miss", ok, err)
	}

	if err := c.Set(ctx, "columns:supplier_a", "code,name,price"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := c.Get(ctx, "columns:supplier_a")
	if err != nil || !ok || v != "code,name,price" {
		t.Fatalf("Get = %q ok=%t err=%v", v, ok, err)
	}

	// Overwrite keeps the latest value.
	if err := c.Set(ctx, "columns:supplier_a", "code,name"); err != nil {
		t.Fatalf("Set (overwrite) failed: %v", err)
	}
	v, _, _ = c.Get(ctx, "columns:supplier_a")
	if v != "code,name" {
		t.Errorf("Get after overwrite = %q, want 'code,name'", v)
	}
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, "k", "v")
				_, _, _ = c.Get(ctx, "k")
			}
		}()
	}
	wg.Wait()
	if v, ok, _ := c.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Get after concurrent writes = %q ok=%t", v, ok)
	}
}
