package modelmgr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// State represents lifecycle state of a model instance.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultAcquireTimeout = 30 * time.Second
	defaultRunTimeout     = 5 * time.Minute
	defaultLoadCooldown   = 30 * time.Second
)

// instance is a live (or failing) model context, one per model id.
type instance struct {
	model    types.Model
	state    State
	runtime  Runtime
	refs     int
	lastUsed time.Time
	// loading is closed when the in-flight load finishes, ready or not.
	// Concurrent acquires of the same unloaded model all wait on it.
	loading  chan struct{}
	loadErr  error
	failedAt time.Time
}

// device serializes Run calls on one physical device.
type device struct {
	id       string
	slot     chan struct{} // size 1: single in-flight run
	inflight atomic.Int32
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Registry []types.Model
	BudgetMB int
	// DefaultModel wins DefaultFor when it matches the requested kind.
	DefaultModel   string
	AcquireTimeout time.Duration
	RunTimeout     time.Duration
	Adapter        Adapter
	Publisher      EventPublisher
	Logger         zerolog.Logger
}

type Manager struct {
	mu       sync.Mutex
	registry map[string]types.Model
	order    []types.Model
	insts    map[string]*instance
	devices  map[string]*device
	budgetMB int
	usedMB   int
	// budgetWait is closed and replaced whenever memory is freed, waking
	// acquires blocked on the budget.
	budgetWait chan struct{}

	defaultModel   string
	adapter        Adapter
	publisher      EventPublisher
	acquireTimeout time.Duration
	runTimeout     time.Duration
	log            zerolog.Logger

	loads     atomic.Uint64
	evictions atomic.Uint64
	startTime time.Time
}

// New constructs a Manager from Config, applying defaults for unset fields.
func New(cfg Config) *Manager {
	m := &Manager{
		registry:       make(map[string]types.Model, len(cfg.Registry)),
		order:          append([]types.Model(nil), cfg.Registry...),
		insts:          make(map[string]*instance),
		devices:        make(map[string]*device),
		budgetMB:       cfg.BudgetMB,
		budgetWait:     make(chan struct{}),
		defaultModel:   cfg.DefaultModel,
		adapter:        cfg.Adapter,
		publisher:      cfg.Publisher,
		acquireTimeout: cfg.AcquireTimeout,
		runTimeout:     cfg.RunTimeout,
		log:            cfg.Logger,
		startTime:      time.Now(),
	}
	for _, mdl := range cfg.Registry {
		m.registry[mdl.ID] = mdl
		if _, ok := m.devices[mdl.Device]; !ok {
			m.devices[mdl.Device] = &device{id: mdl.Device, slot: make(chan struct{}, 1)}
		}
	}
	if m.adapter == nil {
		m.adapter = NewStubAdapter(0, 0)
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.acquireTimeout <= 0 {
		m.acquireTimeout = defaultAcquireTimeout
	}
	if m.runTimeout <= 0 {
		m.runTimeout = defaultRunTimeout
	}
	return m
}

// Models returns the registered models.
func (m *Manager) Models() []types.Model {
	out := make([]types.Model, len(m.order))
	copy(out, m.order)
	return out
}

// Lookup returns the registered model by id.
func (m *Manager) Lookup(id string) (types.Model, bool) {
	mdl, ok := m.registry[id]
	return mdl, ok
}

// DefaultFor returns the configured default model when it serves the given
// kind, otherwise the first registered model of that kind.
func (m *Manager) DefaultFor(kind types.ModelKind) (types.Model, bool) {
	if m.defaultModel != "" {
		if mdl, ok := m.registry[m.defaultModel]; ok && mdl.Kind == kind {
			return mdl, true
		}
	}
	for _, mdl := range m.order {
		if mdl.Kind == kind {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// LoadFailing reports whether the model's most recent load attempt failed
// within the cooldown window. The dispatcher uses this to keep jobs whose
// model cannot load out of the workers' hands.
func (m *Manager) LoadFailing(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.insts[id]
	if inst == nil || inst.state != StateError {
		return false
	}
	return time.Since(inst.failedAt) < defaultLoadCooldown
}

// notifyBudgetLocked wakes every acquire waiting on the memory budget.
// Callers must hold m.mu.
func (m *Manager) notifyBudgetLocked() {
	close(m.budgetWait)
	m.budgetWait = make(chan struct{})
}

// Snapshot returns a read-only projection of manager state for /status.
func (m *Manager) Snapshot() types.ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := types.ServiceStatus{
		BudgetMB:       m.budgetMB,
		UsedMB:         m.usedMB,
		LoadsTotal:     m.loads.Load(),
		EvictionsTotal: m.evictions.Load(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
	}
	for _, inst := range m.insts {
		st.Models = append(st.Models, types.ModelStatus{
			ModelID:      inst.model.ID,
			State:        string(inst.state),
			Device:       inst.model.Device,
			MemoryCostMB: inst.model.MemoryCostMB,
			RefCount:     inst.refs,
			LastUsed:     inst.lastUsed.Unix(),
		})
	}
	return st
}

// Close unloads every idle model. Models with outstanding leases are left to
// their holders; Close is called after the engine has drained.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inst := range m.insts {
		if inst.state == StateReady && inst.refs == 0 {
			if err := inst.runtime.Close(); err != nil {
				m.log.Warn().Err(err).Str("model", id).Msg("runtime close failed")
			}
			m.usedMB -= inst.model.MemoryCostMB
			delete(m.insts, id)
		}
	}
	if m.usedMB < 0 {
		m.usedMB = 0
	}
	return nil
}
