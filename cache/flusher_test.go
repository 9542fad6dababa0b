package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memoryStore 记录每次保存的快照
type memoryStore struct {
	mu      sync.Mutex
	saves   [][]*Record
	saveErr error
	saved   chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(chan struct{}, 16)}
}

func (s *memoryStore) Load(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil, nil
	}
	return s.saves[len(s.saves)-1], nil
}

func (s *memoryStore) Save(ctx context.Context, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, records)
	s.saved <- struct{}{}
	return nil
}

func (s *memoryStore) Name() string { return "memory" }

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func TestFlusherFlush(t *testing.T) {
	c := NewMemoryRecordCache()
	c.Insert(NewRecord(mustRR(t, "example.com. 300 IN A 1.1.1.1"), time.Now(), 0))
	store := newMemoryStore()
	f := NewFlusher(c, store, 0, newTestLogger())

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	records, _ := store.Load(context.Background())
	if len(records) != 1 {
		t.Errorf("saved %d records, want 1", len(records))
	}

	stats := f.Stats()
	if stats.Backend != "memory" || stats.Saves != 1 || stats.Failures != 0 || stats.LastFlush.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestFlusherFlushError(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = ErrPersistence
	f := NewFlusher(NewMemoryRecordCache(), store, 0, newTestLogger())

	if err := f.Flush(context.Background()); !errors.Is(err, ErrPersistence) {
		t.Fatalf("Flush() error = %v, want ErrPersistence", err)
	}
	if stats := f.Stats(); stats.Failures != 1 || stats.Saves != 0 {
		t.Errorf("Stats() = %+v, want 1 failure", stats)
	}
}

func TestFlusherRunCoalesces(t *testing.T) {
	c := NewMemoryRecordCache()
	store := newMemoryStore()
	f := NewFlusher(c, store, 50*time.Millisecond, newTestLogger())

	// 多次变更只写一次
	for i := 0; i < 10; i++ {
		f.MarkDirty()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case <-store.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not flush after MarkDirty")
	}

	time.Sleep(150 * time.Millisecond)
	if got := store.count(); got != 1 {
		t.Errorf("saves = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestFlusherRunNoDirty(t *testing.T) {
	store := newMemoryStore()
	f := NewFlusher(NewMemoryRecordCache(), store, 0, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := store.count(); got != 0 {
		t.Errorf("saves = %d, want 0", got)
	}
}
