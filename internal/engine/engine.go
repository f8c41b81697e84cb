package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/modelmgr"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/postproc"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/prompt"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

const (
	defaultWorkers          = 4
	defaultGlobalMaxRunning = 8
	defaultMaxAttempts      = 3
	defaultKindTimeout      = 5 * time.Minute
	defaultWatchdogInterval = 5 * time.Second
	defaultHeartbeatGrace   = 30 * time.Second
	// dispatchRecheck bounds how long an idle worker waits before
	// re-scanning the queue when no wake signal arrived. Owner-limit slots
	// freed by another worker's completion are picked up here.
	dispatchRecheck = 250 * time.Millisecond
)

// FileAccessor resolves media payload paths. The engine only needs existence
// and size; decoding is the model runtime's concern.
type FileAccessor interface {
	Stat(ctx context.Context, path string) (size int64, err error)
}

type osFileAccessor struct{}

func (osFileAccessor) Stat(_ context.Context, path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Config wires the engine's collaborators and scheduling limits.
type Config struct {
	Store      taskstore.Store
	Models     *modelmgr.Manager
	Prompts    *prompt.Library
	Simplifier *postproc.Simplifier
	Quotas     Quotas
	Files      FileAccessor

	Workers          int
	GlobalMaxRunning int
	MaxAttempts      int
	// KindTimeouts caps wall-clock execution per task kind; kinds without
	// an entry get the default budget.
	KindTimeouts     map[types.TaskKind]time.Duration
	WatchdogInterval time.Duration
	HeartbeatGrace   time.Duration

	Logger *zerolog.Logger
}

// runningJob tracks one in-flight execution for cancellation and the
// watchdog.
type runningJob struct {
	j         *job
	cancel    context.CancelFunc
	heartbeat int64 // unixnano, updated on every progress report
	deadline  time.Time

	mu              sync.Mutex
	cancelRequested bool
	watchdogFired   bool
}

// Engine admits tasks, schedules them on a bounded worker pool, and drives
// each execution through the model manager and post-processor.
type Engine struct {
	cfg   Config
	store taskstore.Store
	mgr   *modelmgr.Manager
	log   zerolog.Logger

	globalSem *semaphore.Weighted

	mu             sync.Mutex
	queue          *jobQueue
	queuedByOwner  map[string]int
	runningByOwner map[string]int
	running        map[string]*runningJob
	draining       bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. Start must be called before submissions are served.
func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.GlobalMaxRunning <= 0 {
		cfg.GlobalMaxRunning = defaultGlobalMaxRunning
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = defaultWatchdogInterval
	}
	if cfg.HeartbeatGrace <= 0 {
		cfg.HeartbeatGrace = defaultHeartbeatGrace
	}
	if cfg.Quotas == nil {
		cfg.Quotas = NewStaticQuotas(nil, nil, "free")
	}
	if cfg.Files == nil {
		cfg.Files = osFileAccessor{}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:            cfg,
		store:          cfg.Store,
		mgr:            cfg.Models,
		log:            logger,
		globalSem:      semaphore.NewWeighted(int64(cfg.GlobalMaxRunning)),
		queue:          newJobQueue(),
		queuedByOwner:  make(map[string]int),
		runningByOwner: make(map[string]int),
		running:        make(map[string]*runningJob),
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the worker pool and the watchdog.
func (e *Engine) Start() {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i)
	}
	e.wg.Add(1)
	go e.watchdogLoop()
	e.log.Info().Int("workers", e.cfg.Workers).Int("global_max_running", e.cfg.GlobalMaxRunning).Msg("engine started")
}

// Shutdown stops intake, waits for queued and running work to drain until
// ctx expires, then cancels whatever is still in flight and joins the pool.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	var drainErr error
drain:
	for {
		e.mu.Lock()
		idle := e.queue.len() == 0 && len(e.running) == 0
		e.mu.Unlock()
		if idle {
			break
		}
		select {
		case <-ctx.Done():
			drainErr = ctx.Err()
			break drain
		case <-tick.C:
		}
	}

	e.cancel()
	e.wg.Wait()
	e.log.Info().Msg("engine stopped")
	return drainErr
}

// timeoutFor returns the execution budget for a kind.
func (e *Engine) timeoutFor(kind types.TaskKind) time.Duration {
	if d, ok := e.cfg.KindTimeouts[kind]; ok && d > 0 {
		return d
	}
	return defaultKindTimeout
}

// signalWake nudges one idle worker to re-scan the queue.
func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Counts returns current queue depth and running task count.
func (e *Engine) Counts() (queued, running int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len(), len(e.running)
}
