package modelmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// countingAdapter counts Load calls per model and can be told to fail.
type countingAdapter struct {
	mu        sync.Mutex
	loads     map[string]int
	failFor   map[string]error
	loadDelay time.Duration
	genDelay  time.Duration
}

func newCountingAdapter() *countingAdapter {
	return &countingAdapter{loads: make(map[string]int), failFor: make(map[string]error)}
}

func (a *countingAdapter) Load(ctx context.Context, mdl types.Model) (Runtime, error) {
	a.mu.Lock()
	a.loads[mdl.ID]++
	failErr := a.failFor[mdl.ID]
	a.mu.Unlock()
	if a.loadDelay > 0 {
		select {
		case <-time.After(a.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	return &stubRuntime{model: mdl, delay: a.genDelay}, nil
}

func (a *countingAdapter) loadCount(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads[id]
}

func twoModelRegistry() []types.Model {
	return []types.Model{
		{ID: "model-a", Kind: types.ModelLLM, Device: "gpu0", MemoryCostMB: 60},
		{ID: "model-b", Kind: types.ModelLLM, Device: "gpu0", MemoryCostMB: 60},
	}
}

func TestAcquireLoadsOnce(t *testing.T) {
	ad := newCountingAdapter()
	ad.loadDelay = 20 * time.Millisecond
	m := New(Config{Registry: twoModelRegistry(), Adapter: ad})

	const n = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.Acquire(context.Background(), "model-a")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("acquire %d: %v", i, errs[i])
		}
	}
	if got := ad.loadCount("model-a"); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	for _, h := range handles {
		m.Release(h)
	}
}

func TestAcquireUnknownModel(t *testing.T) {
	m := New(Config{Registry: twoModelRegistry()})
	_, err := m.Acquire(context.Background(), "no-such-model")
	if err == nil || !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(Config{Registry: twoModelRegistry()})
	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(h)
	m.Release(h)
	if h.inst.refs != 0 {
		t.Fatalf("double release must not drive refs negative, got %d", h.inst.refs)
	}
}

func TestEvictionFreesMemoryForNewLoad(t *testing.T) {
	ad := newCountingAdapter()
	m := New(Config{Registry: twoModelRegistry(), BudgetMB: 100, Adapter: ad})

	ha, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	m.Release(ha)

	// Budget 100, each model 60: loading b must evict the idle a.
	hb, err := m.Acquire(context.Background(), "model-b")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	m.Release(hb)

	snap := m.Snapshot()
	if snap.EvictionsTotal != 1 {
		t.Fatalf("expected one eviction, got %d", snap.EvictionsTotal)
	}
	for _, ms := range snap.Models {
		if ms.ModelID == "model-a" {
			t.Fatal("model-a should have been evicted")
		}
	}

	// Re-acquiring a loads it again from scratch.
	ha, err = m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("reacquire a: %v", err)
	}
	m.Release(ha)
	if got := ad.loadCount("model-a"); got != 2 {
		t.Fatalf("expected reload after eviction, got %d loads", got)
	}
}

func TestAcquireBusyWhenNothingEvictable(t *testing.T) {
	m := New(Config{Registry: twoModelRegistry(), BudgetMB: 100, AcquireTimeout: 50 * time.Millisecond})

	ha, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	// a is leased; b cannot fit and cannot evict.
	_, err = m.Acquire(context.Background(), "model-b")
	if err == nil || !IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	m.Release(ha)
}

func TestAcquireWaitsForFreedBudget(t *testing.T) {
	m := New(Config{Registry: twoModelRegistry(), BudgetMB: 100, AcquireTimeout: 2 * time.Second})

	ha, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		hb, err := m.Acquire(context.Background(), "model-b")
		if err == nil {
			m.Release(hb)
		}
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	m.Release(ha)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter should proceed after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after budget was freed")
	}
}

func TestLoadErrorAndCooldown(t *testing.T) {
	ad := newCountingAdapter()
	ad.failFor["model-a"] = errors.New("weights corrupt")
	m := New(Config{Registry: twoModelRegistry(), Adapter: ad})

	_, err := m.Acquire(context.Background(), "model-a")
	if err == nil || !IsLoadError(err) {
		t.Fatalf("expected load error, got %v", err)
	}
	if !m.LoadFailing("model-a") {
		t.Fatal("model should be in load-failure cooldown")
	}
	if m.LoadFailing("model-b") {
		t.Fatal("healthy model must not report failing")
	}

	// A later acquire retries the load instead of serving the stale error.
	ad.mu.Lock()
	delete(ad.failFor, "model-a")
	ad.mu.Unlock()
	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	m.Release(h)
	if m.LoadFailing("model-a") {
		t.Fatal("recovered model must not report failing")
	}
}

func TestAcquireTimesOutWhenLoadHangs(t *testing.T) {
	ad := newCountingAdapter()
	ad.loadDelay = 5 * time.Second
	m := New(Config{Registry: twoModelRegistry(), BudgetMB: 100, Adapter: ad, AcquireTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := m.Acquire(context.Background(), "model-a")
	if err == nil || !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("acquire did not respect its deadline, took %v", elapsed)
	}

	// The abandoned load must not leak its budget reservation.
	if snap := m.Snapshot(); snap.UsedMB != 0 {
		t.Fatalf("budget not rolled back, used=%d", snap.UsedMB)
	}
	if !m.LoadFailing("model-a") {
		t.Fatal("timed-out load should enter cooldown")
	}

	// A later acquire starts a fresh load once the adapter recovers.
	ad.loadDelay = 0
	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	m.Release(h)
}

func TestRunSerializesPerDevice(t *testing.T) {
	ad := newCountingAdapter()
	ad.genDelay = 30 * time.Millisecond
	m := New(Config{Registry: twoModelRegistry(), Adapter: ad})

	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(h)

	var maxInflight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := make(chan struct{})
			go func() {
				for {
					select {
					case <-stop:
						return
					default:
					}
					if n := int32(m.DeviceInflight("gpu0")); n > maxInflight.Load() {
						maxInflight.Store(n)
					}
					time.Sleep(time.Millisecond)
				}
			}()
			_, err := m.Run(context.Background(), h, Input{Prompt: "p"})
			close(stop)
			if err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInflight.Load() > 1 {
		t.Fatalf("device ran %d inferences concurrently", maxInflight.Load())
	}
}

func TestRunTimesOutWaitingForDevice(t *testing.T) {
	ad := newCountingAdapter()
	ad.genDelay = 200 * time.Millisecond
	m := New(Config{Registry: twoModelRegistry(), Adapter: ad, RunTimeout: 20 * time.Millisecond})

	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(h)

	started := make(chan struct{})
	go func() {
		close(started)
		m.Run(context.Background(), h, Input{Prompt: "long"})
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	_, err = m.Run(context.Background(), h, Input{Prompt: "second"})
	if err == nil || !IsTimeout(err) {
		t.Fatalf("expected device timeout, got %v", err)
	}
}

func TestRunOnReleasedHandle(t *testing.T) {
	m := New(Config{Registry: twoModelRegistry()})
	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(h)
	if _, err := m.Run(context.Background(), h, Input{Prompt: "p"}); err == nil {
		t.Fatal("run on released handle must fail")
	}
}

func TestSnapshotReportsUsage(t *testing.T) {
	m := New(Config{Registry: twoModelRegistry(), BudgetMB: 200})
	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(h)

	snap := m.Snapshot()
	if snap.BudgetMB != 200 || snap.UsedMB != 60 {
		t.Fatalf("unexpected budget/used: %d/%d", snap.BudgetMB, snap.UsedMB)
	}
	if snap.LoadsTotal != 1 {
		t.Fatalf("expected one load, got %d", snap.LoadsTotal)
	}
	if len(snap.Models) != 1 || snap.Models[0].RefCount != 1 {
		t.Fatalf("unexpected model snapshot: %+v", snap.Models)
	}
}

func TestMemoryPublisherReceivesEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	m := New(Config{Registry: twoModelRegistry(), Publisher: pub})
	h, err := m.Acquire(context.Background(), "model-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(h)

	names := make(map[string]bool)
	for _, ev := range pub.Events() {
		names[ev.Name] = true
	}
	if !names["load_start"] || !names["load_ready"] {
		t.Fatalf("expected load events, got %v", names)
	}
}
