package service

import (
	"sync"
	"testing"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	locks := newKeyLock()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("local:evt1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestKeyLock_ReleasesEntries(t *testing.T) {
	locks := newKeyLock()

	unlock := locks.Lock("local:evt1")
	unlock()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()

	if remaining != 0 {
		t.Errorf("%d lock entries retained after release", remaining)
	}
}
