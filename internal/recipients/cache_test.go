package recipients

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goblast/internal/driver"
)

// countingDriver counts directory lookups.
type countingDriver struct {
	lookups    atomic.Int32
	registered bool
	err        error
}

func (d *countingDriver) Connect(context.Context) error { return nil }
func (d *countingDriver) Disconnect()                   {}
func (d *countingDriver) Events() <-chan driver.Event   { return nil }

func (d *countingDriver) IsRegistered(context.Context, string) (bool, error) {
	d.lookups.Add(1)
	return d.registered, d.err
}

func (d *countingDriver) SendText(context.Context, string, string) error { return nil }
func (d *countingDriver) SendAttachment(context.Context, string, driver.Attachment) error {
	return nil
}

func TestCache_RemembersBothOutcomes(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(16, time.Minute)

	pos := &countingDriver{registered: true}
	for i := 0; i < 3; i++ {
		ok, err := cache.IsRegistered(ctx, pos, "20100000001")
		if err != nil || !ok {
			t.Fatalf("lookup %d = %v, %v", i, ok, err)
		}
	}
	if n := pos.lookups.Load(); n != 1 {
		t.Errorf("positive lookups hit driver %d times, want 1", n)
	}

	neg := &countingDriver{registered: false}
	for i := 0; i < 3; i++ {
		ok, err := cache.IsRegistered(ctx, neg, "20100000002")
		if err != nil || ok {
			t.Fatalf("lookup %d = %v, %v", i, ok, err)
		}
	}
	if n := neg.lookups.Load(); n != 1 {
		t.Errorf("negative lookups hit driver %d times, want 1", n)
	}
}

func TestCache_NeverCachesErrors(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(16, time.Minute)
	d := &countingDriver{err: errors.New("timed out")}

	for i := 0; i < 3; i++ {
		if _, err := cache.IsRegistered(ctx, d, "20100000003"); err == nil {
			t.Fatal("expected lookup error")
		}
	}
	if n := d.lookups.Load(); n != 3 {
		t.Errorf("erroring lookups hit driver %d times, want 3 (no caching)", n)
	}
}

func TestCache_Purge(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(16, time.Minute)
	d := &countingDriver{registered: true}

	cache.IsRegistered(ctx, d, "20100000004")
	cache.Purge()
	cache.IsRegistered(ctx, d, "20100000004")

	if n := d.lookups.Load(); n != 2 {
		t.Errorf("driver lookups = %d, want 2 after purge", n)
	}
}
