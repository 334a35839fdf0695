package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestStorePutGetCopiesData(t *testing.T) {
	t.Parallel()

	store := New()
	payload := []byte(`{"title":"Route 5"}`)
	if err := store.Put(context.Background(), "abc", payload); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	payload[0] = 'X'

	got, ok, err := store.Get(context.Background(), "abc")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(got) != `{"title":"Route 5"}` {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	got[0] = 'Y'
	again, _, _ := store.Get(context.Background(), "abc")
	if again[0] != '{' {
		t.Fatalf("Get must return a copy, got %q", again)
	}
}

func TestStoreMiss(t *testing.T) {
	t.Parallel()

	got, ok, err := New().Get(context.Background(), "missing")
	if err != nil || ok || got != nil {
		t.Fatalf("expected clean miss, got %q %v %v", got, ok, err)
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	if err := New().Put(context.Background(), " ", []byte("x")); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			if err := store.Put(context.Background(), key, []byte("v")); err != nil {
				t.Errorf("Put() error = %v", err)
			}
			if _, _, err := store.Get(context.Background(), key); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if store.Len() != 10 {
		t.Fatalf("expected 10 keys, got %d", store.Len())
	}
}
