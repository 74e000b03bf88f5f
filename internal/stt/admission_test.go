package stt

import (
	"math/rand"
	"sync"
	"testing"
)

func TestAdmission_CapsConcurrentSessions(t *testing.T) {
	a := NewAdmission(2)

	id1, ok1 := a.TryAdmit()
	if !ok1 {
		t.Fatal("expected first admission to succeed")
	}
	_, ok2 := a.TryAdmit()
	if !ok2 {
		t.Fatal("expected second admission to succeed")
	}
	if _, ok3 := a.TryAdmit(); ok3 {
		t.Fatal("expected third admission to be refused when saturated")
	}

	a.Release(id1)
	if _, ok := a.TryAdmit(); !ok {
		t.Fatal("expected admission to succeed after a release")
	}
}

func TestAdmission_DoubleReleaseIsNoop(t *testing.T) {
	a := NewAdmission(1)
	id, _ := a.TryAdmit()
	a.Release(id)
	a.Release(id)
	if a.Count() != 0 {
		t.Errorf("expected count 0 after double release, got %d", a.Count())
	}
}

// Property 4: the counter is conserved for any sequence of create/close
// events — after quiescence it equals the number of open sockets.
func TestAdmission_CounterConservedUnderConcurrency(t *testing.T) {
	a := NewAdmission(5)
	rng := rand.New(rand.NewSource(7))

	var mu sync.Mutex
	var held []string
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rng.Intn(2) == 0 {
				if id, ok := a.TryAdmit(); ok {
					mu.Lock()
					held = append(held, id)
					mu.Unlock()
				}
			} else {
				mu.Lock()
				if len(held) > 0 {
					id := held[len(held)-1]
					held = held[:len(held)-1]
					mu.Unlock()
					a.Release(id)
				} else {
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if a.Count() != len(held) {
		t.Errorf("counter %d does not match open sockets %d", a.Count(), len(held))
	}
}
