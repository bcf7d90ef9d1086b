package syncx

import (
	"sync"
	"testing"
)

func TestGuardGet(t *testing.T) {
	g := NewGuard(42)
	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}
}

func TestGuardRead(t *testing.T) {
	g := NewGuard(map[string]int{"a": 1, "b": 2})

	result := g.Read(func(v map[string]int) any {
		return v["b"]
	})
	if result != 2 {
		t.Errorf("Read() = %v, want 2", result)
	}
}

func TestGuardWrite(t *testing.T) {
	g := NewGuard(map[string]int{})

	g.Write(func(m *map[string]int) {
		(*m)["conns"] = 3
	})

	if got := g.Get()["conns"]; got != 3 {
		t.Errorf("value = %d, want 3", got)
	}
}

func TestGuardConcurrentSafety(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}
	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}
