package watch

import (
	"context"
	"testing"
	"time"
)

func intEqual(a, b int) bool { return a == b }

func TestValue_SetDeduplicates(t *testing.T) {
	v := NewValue(0, intEqual)

	if v.Set(0) {
		t.Error("Set(0) = true for unchanged value")
	}
	if !v.Set(1) {
		t.Error("Set(1) = false for new value")
	}
	if got := v.Get(); got != 1 {
		t.Errorf("Get() = %d, want 1", got)
	}
	if got := v.Version(); got != 1 {
		t.Errorf("Version() = %d, want 1", got)
	}
}

func TestValue_WithoutEqualAlwaysPublishes(t *testing.T) {
	v := NewValue(0, nil)

	if !v.Set(0) {
		t.Error("Set(0) = false without an equality func")
	}
}

func TestValue_SubscribeReplaysCurrent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v := NewValue(7, intEqual)
	ch := v.Subscribe(ctx)

	select {
	case got := <-ch:
		if got != 7 {
			t.Errorf("first value = %d, want 7", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for replay")
	}
}

func TestValue_SubscribeConflates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v := NewValue(0, intEqual)
	ch := v.Subscribe(ctx)
	<-ch

	for i := 1; i <= 100; i++ {
		v.Set(i)
	}

	got, err := func() (int, error) {
		for {
			select {
			case x := <-ch:
				if x == 100 {
					return x, nil
				}
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}()
	if err != nil {
		t.Fatalf("never received latest value: %v", err)
	}
	if got != 100 {
		t.Errorf("latest = %d, want 100", got)
	}
}

func TestValue_SubscribeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	v := NewValue(0, intEqual)
	ch := v.Subscribe(ctx)
	<-ch

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received value after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestValue_WaitFor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v := NewValue(0, intEqual)
	go func() {
		time.Sleep(10 * time.Millisecond)
		v.Set(3)
	}()

	got, err := v.WaitFor(ctx, func(x int) bool { return x >= 3 })
	if err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if got != 3 {
		t.Errorf("WaitFor() = %d, want 3", got)
	}
}

func TestValue_WaitForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewValue(0, intEqual)
	if _, err := v.WaitFor(ctx, func(int) bool { return false }); err == nil {
		t.Error("WaitFor() error = nil on cancelled context")
	}
}

func TestMailbox_LatestWins(t *testing.T) {
	m := NewMailbox[int]()

	m.Put(1)
	m.Put(2)
	m.Put(3)

	select {
	case got := <-m.C():
		if got != 3 {
			t.Errorf("received %d, want 3", got)
		}
	default:
		t.Fatal("mailbox empty")
	}

	select {
	case got := <-m.C():
		t.Errorf("unexpected second value %d", got)
	default:
	}
}
