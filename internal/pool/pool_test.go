package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkleve522/zzimage/internal/model"
)

type fakeStore struct {
	mu        sync.Mutex
	creds     []model.Credential
	dailyUsed map[int]int
	dailyDate map[int]string
	today     string
	listCalls int
	markCalls []int
	listErr   error
	usageErr  error
}

func newFakeStore(creds ...model.Credential) *fakeStore {
	return &fakeStore{
		creds:     creds,
		dailyUsed: map[int]int{},
		dailyDate: map[int]string{},
	}
}

func (f *fakeStore) ListActive(ctx context.Context) ([]model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.listCalls++
	out := make([]model.Credential, len(f.creds))
	copy(out, f.creds)
	return out, nil
}

func (f *fakeStore) DailyUsage(ctx context.Context, id int) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usageErr != nil {
		return 0, "", f.usageErr
	}
	return f.dailyUsed[id], f.dailyDate[id], nil
}

func (f *fakeStore) MarkUsed(ctx context.Context, id int, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, id)
	if success {
		f.dailyUsed[id]++
		if f.today != "" {
			f.dailyDate[id] = f.today
		}
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSelectRoundRobin(t *testing.T) {
	store := newFakeStore(
		model.Credential{ID: 1},
		model.Credential{ID: 2},
		model.Credential{ID: 3},
	)
	s := New(store, 100)

	var got []int
	for i := 0; i < 6; i++ {
		cred, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		got = append(got, cred.ID)
	}

	want := []int{1, 2, 3, 1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection order = %v, want %v", got, want)
		}
	}
}

func TestSelectSkipsExhaustedCredential(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	today := now.Format(model.DailyDateLayout)

	store := newFakeStore(
		model.Credential{ID: 1},
		model.Credential{ID: 2},
	)
	store.dailyUsed[1] = 5
	store.dailyDate[1] = today

	s := New(store, 5, WithClock(fixedClock(now)))

	for i := 0; i < 3; i++ {
		cred, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if cred.ID != 2 {
			t.Fatalf("selected credential %d, want 2", cred.ID)
		}
	}
}

func TestSelectStaleDailyDateCountsAsZero(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	store := newFakeStore(model.Credential{ID: 1})
	store.dailyUsed[1] = 99
	store.dailyDate[1] = "2026-03-13" // 昨天的计数不算

	s := New(store, 5, WithClock(fixedClock(now)))

	cred, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if cred.ID != 1 {
		t.Fatalf("selected credential %d, want 1", cred.ID)
	}
}

func TestSelectExhausted(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	today := now.Format(model.DailyDateLayout)

	tests := []struct {
		name  string
		store *fakeStore
	}{
		{
			name:  "empty pool",
			store: newFakeStore(),
		},
		{
			name: "all over quota",
			store: func() *fakeStore {
				f := newFakeStore(model.Credential{ID: 1}, model.Credential{ID: 2})
				f.dailyUsed[1] = 10
				f.dailyDate[1] = today
				f.dailyUsed[2] = 10
				f.dailyDate[2] = today
				return f
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.store, 10, WithClock(fixedClock(now)))
			_, err := s.Select(context.Background())
			if !errors.Is(err, ErrExhausted) {
				t.Fatalf("err = %v, want ErrExhausted", err)
			}
		})
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	current := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(model.Credential{ID: 1})

	s := New(store, 0, WithClock(func() time.Time { return current }), WithCacheTTL(30*time.Second))

	for i := 0; i < 5; i++ {
		if _, err := s.Select(context.Background()); err != nil {
			t.Fatalf("select: %v", err)
		}
	}
	if store.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1 within TTL", store.listCalls)
	}

	current = current.Add(31 * time.Second)
	if _, err := s.Select(context.Background()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if store.listCalls != 2 {
		t.Fatalf("listCalls = %d, want 2 after TTL expiry", store.listCalls)
	}
}

func TestRecordOutcomeForcesRefresh(t *testing.T) {
	store := newFakeStore(model.Credential{ID: 1})
	s := New(store, 0)

	if _, err := s.Select(context.Background()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if store.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1", store.listCalls)
	}

	if err := s.RecordOutcome(context.Background(), 1, true); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if len(store.markCalls) != 1 || store.markCalls[0] != 1 {
		t.Fatalf("markCalls = %v, want [1]", store.markCalls)
	}

	if _, err := s.Select(context.Background()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if store.listCalls != 2 {
		t.Fatalf("listCalls = %d, want 2 after outcome recorded", store.listCalls)
	}
}

func TestRemainingQuotaPerCredential(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	today := now.Format(model.DailyDateLayout)

	store := newFakeStore(
		model.Credential{ID: 1},
		model.Credential{ID: 2},
		model.Credential{ID: 3},
	)
	store.dailyUsed[1] = 3
	store.dailyDate[1] = today
	store.dailyUsed[2] = 12 // 超额截断到 0
	store.dailyDate[2] = today
	store.dailyUsed[3] = 8
	store.dailyDate[3] = "2026-03-13"

	s := New(store, 10, WithClock(fixedClock(now)))

	tests := []struct {
		id   int
		want int
	}{
		{id: 1, want: 7},
		{id: 2, want: 0},
		{id: 3, want: 10}, // 昨天的计数不算
	}
	for _, tt := range tests {
		got, err := s.RemainingQuota(context.Background(), tt.id)
		if err != nil {
			t.Fatalf("remaining quota for %d: %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("remaining quota for %d = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestTotalRemainingQuota(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	today := now.Format(model.DailyDateLayout)

	store := newFakeStore(
		model.Credential{ID: 1},
		model.Credential{ID: 2},
		model.Credential{ID: 3},
	)
	store.dailyUsed[1] = 3
	store.dailyDate[1] = today
	store.dailyUsed[2] = 10
	store.dailyDate[2] = today
	store.dailyUsed[3] = 8
	store.dailyDate[3] = "2026-03-13"

	s := New(store, 10, WithClock(fixedClock(now)))

	remaining, err := s.TotalRemainingQuota(context.Background())
	if err != nil {
		t.Fatalf("remaining quota: %v", err)
	}
	// 7 + 0 + 10
	if remaining != 17 {
		t.Fatalf("remaining = %d, want 17", remaining)
	}
}

func TestRemainingQuotaUnlimited(t *testing.T) {
	store := newFakeStore(model.Credential{ID: 1})
	s := New(store, 0)

	remaining, err := s.RemainingQuota(context.Background(), 1)
	if err != nil {
		t.Fatalf("remaining quota: %v", err)
	}
	if remaining != -1 {
		t.Fatalf("remaining = %d, want -1 for unlimited", remaining)
	}

	total, err := s.TotalRemainingQuota(context.Background())
	if err != nil {
		t.Fatalf("total remaining quota: %v", err)
	}
	if total != -1 {
		t.Fatalf("total remaining = %d, want -1 for unlimited", total)
	}
}

func TestCursorResetsWhenPoolShrinks(t *testing.T) {
	store := newFakeStore(
		model.Credential{ID: 1},
		model.Credential{ID: 2},
		model.Credential{ID: 3},
		model.Credential{ID: 4},
	)
	s := New(store, 0)

	// 游标推进到 3
	for i := 0; i < 3; i++ {
		if _, err := s.Select(context.Background()); err != nil {
			t.Fatalf("select: %v", err)
		}
	}

	store.mu.Lock()
	store.creds = []model.Credential{{ID: 1}, {ID: 2}}
	store.mu.Unlock()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	cred, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if cred.ID != 1 {
		t.Fatalf("selected credential %d after shrink, want 1", cred.ID)
	}
}

func TestConcurrentSelectRecordOutcome(t *testing.T) {
	store := newFakeStore(
		model.Credential{ID: 1},
		model.Credential{ID: 2},
		model.Credential{ID: 3},
	)
	store.today = time.Now().Format(model.DailyDateLayout)
	s := New(store, 100)

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := s.Select(context.Background())
			if err != nil {
				t.Errorf("select: %v", err)
				return
			}
			if err := s.RecordOutcome(context.Background(), cred.ID, true); err != nil {
				t.Errorf("record outcome: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(store.markCalls) != workers {
		t.Fatalf("markCalls = %d, want %d", len(store.markCalls), workers)
	}
	total := 0
	for _, used := range store.dailyUsed {
		total += used
	}
	if total != workers {
		t.Fatalf("total daily used = %d, want %d", total, workers)
	}

	remaining, err := s.TotalRemainingQuota(context.Background())
	if err != nil {
		t.Fatalf("total remaining quota: %v", err)
	}
	if want := 3*100 - workers; remaining != want {
		t.Fatalf("remaining = %d, want %d", remaining, want)
	}
}
