// Package moveop runs durable cross-filesystem move operations: a SQLite
// backed queue of moves executed by a worker pool, with per-operation progress
// published for the item overlay. Operations survive restarts; interrupted
// ones are marked failed and retried.
package moveop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/atomic"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/utils/log"
)

// ErrManagerClosed is returned when QueueMove is called on a closed manager.
var ErrManagerClosed = errors.New("manager closed")

// PathTranslator maps a client-side path into the app's local view.
type PathTranslator interface {
	TranslatePath(clientPath string, t core.ClientType, instanceID string) string
}

// Events receives move lifecycle notifications. May be nil.
type Events interface {
	FileMoved(op *core.MoveOperation)
}

// savePather is implemented by adapters whose client relocates data itself
// and exposes the current save path for poll-until-done.
type savePather interface {
	SavePath(ctx context.Context, hash string) (string, error)
}

// Manager executes queued move operations.
type Manager struct {
	config   Config
	stats    tally.Scope
	store    *Store
	registry *clientregistry.Registry
	paths    PathTranslator
	events   Events

	mu     sync.RWMutex
	active map[string]*core.MoveOperation

	incoming  chan *core.MoveOperation
	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
	closed    atomic.Bool
}

// NewManager creates a started Manager. Operations left in flight by a
// previous process are marked failed and picked up by the retry loop.
func NewManager(
	config Config,
	stats tally.Scope,
	store *Store,
	registry *clientregistry.Registry,
	paths PathTranslator,
	events Events) (*Manager, error) {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{"module": "moveop"})
	m := &Manager{
		config:   config,
		stats:    stats,
		store:    store,
		registry: registry,
		paths:    paths,
		events:   events,
		active:   make(map[string]*core.MoveOperation),
		incoming: make(chan *core.MoveOperation, config.QueueSize),
		done:     make(chan struct{}),
	}
	if err := m.recoverInterrupted(); err != nil {
		return nil, fmt.Errorf("recover interrupted moves: %s", err)
	}
	for i := 0; i < config.NumWorkers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.wg.Add(1)
	go m.retryLoop()
	return m, nil
}

func (m *Manager) recoverInterrupted() error {
	ops, err := m.store.GetActive()
	if err != nil {
		return fmt.Errorf("get active: %s", err)
	}
	for _, op := range ops {
		if err := m.store.MarkFailed(op.CompoundKey, "interrupted by restart"); err != nil {
			return fmt.Errorf("mark failed: %s", err)
		}
	}
	failed, err := m.store.GetFailed()
	if err != nil {
		return fmt.Errorf("get failed: %s", err)
	}
	m.mu.Lock()
	for _, op := range failed {
		m.active[op.CompoundKey] = op
	}
	m.mu.Unlock()
	return nil
}

// QueueMove enqueues op for execution. Re-queueing a failed operation retries
// it; re-queueing an in-flight one is an error.
func (m *Manager) QueueMove(op *core.MoveOperation) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if _, _, err := core.SplitCompoundKey(op.CompoundKey); err != nil {
		return err
	}
	if err := m.store.AddPending(op); err != nil {
		if err != ErrTaskExists {
			return fmt.Errorf("add pending: %s", err)
		}
		existing, err := m.store.Get(op.CompoundKey)
		if err != nil {
			return fmt.Errorf("get existing: %s", err)
		}
		if existing.Status != core.MoveFailed {
			return fmt.Errorf("move already in progress for %s", op.CompoundKey)
		}
		if err := m.store.MarkStatus(op.CompoundKey, core.MovePending); err != nil {
			return fmt.Errorf("mark pending: %s", err)
		}
		op.Status = core.MovePending
	}
	m.setActive(op)
	select {
	case m.incoming <- op:
		m.stats.Counter("queued").Inc(1)
	default:
		// Queue full. Leave the operation failed for the retry loop.
		if err := m.store.MarkFailed(op.CompoundKey, "queue full"); err != nil {
			return fmt.Errorf("mark failed: %s", err)
		}
		op.Status = core.MoveFailed
		m.setActive(op)
	}
	return nil
}

// StatusFor reports the live state of the move for compound key, if any.
func (m *Manager) StatusFor(key string) (*core.MoveOperation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.active[key]
	if !ok {
		return nil, false
	}
	copied := *op
	return &copied, true
}

// Dismiss clears a failed operation from the overlay and the store.
func (m *Manager) Dismiss(key string) error {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
	if err := m.store.Remove(key); err != nil && err != ErrTaskNotFound {
		return err
	}
	return nil
}

// Close drains workers. In-flight operations finish their current file copy.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) setActive(op *core.MoveOperation) {
	copied := *op
	m.mu.Lock()
	m.active[op.CompoundKey] = &copied
	m.mu.Unlock()
}

func (m *Manager) clearActive(key string) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case op := <-m.incoming:
			m.run(op)
		}
	}
}

func (m *Manager) retryLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.PollRetriesInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.pollRetries()
		}
	}
}

func (m *Manager) pollRetries() {
	ops, err := m.store.GetFailed()
	if err != nil {
		log.Errorf("Get failed moves: %s", err)
		return
	}
	for _, op := range ops {
		if time.Since(op.LastAttempt) < m.config.RetryInterval {
			continue
		}
		if err := m.store.MarkStatus(op.CompoundKey, core.MovePending); err != nil {
			log.With("key", op.CompoundKey).Errorf("Mark pending: %s", err)
			continue
		}
		op.Status = core.MovePending
		select {
		case m.incoming <- op:
			m.setActive(op)
			m.stats.Counter("retries").Inc(1)
		default:
			m.store.MarkFailed(op.CompoundKey, "queue full")
		}
	}
}

func (m *Manager) run(op *core.MoveOperation) {
	timer := m.stats.Timer("exec").Start()
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.TaskTimeout)
	defer cancel()

	if err := m.exec(ctx, op); err != nil {
		m.stats.Counter("task_failure").Inc(1)
		log.With("key", op.CompoundKey).Errorf("Move failed: %s", err)
		op.Status = core.MoveFailed
		op.ErrorMessage = err.Error()
		m.setActive(op)
		if err := m.store.MarkFailed(op.CompoundKey, op.ErrorMessage); err != nil {
			log.With("key", op.CompoundKey).Errorf("Mark failed: %s", err)
		}
		return
	}

	if err := m.store.MarkStatus(op.CompoundKey, core.MoveDone); err != nil {
		log.With("key", op.CompoundKey).Errorf("Mark done: %s", err)
	}
	op.Status = core.MoveDone
	m.clearActive(op.CompoundKey)
	if m.events != nil {
		m.events.FileMoved(op)
	}
	m.stats.Counter("done").Inc(1)
}

func (m *Manager) exec(ctx context.Context, op *core.MoveOperation) error {
	instanceID, hash, err := core.SplitCompoundKey(op.CompoundKey)
	if err != nil {
		return err
	}
	a, err := m.registry.Get(instanceID)
	if err != nil {
		return fmt.Errorf("lookup instance: %s", err)
	}
	caps := core.MustMeta(a.Type()).Capabilities

	op.Status = core.MoveMoving
	m.setActive(op)
	if err := m.store.MarkStatus(op.CompoundKey, core.MoveMoving); err != nil {
		return fmt.Errorf("mark moving: %s", err)
	}

	if caps.NativeMove {
		return m.execNative(ctx, a, op, hash)
	}
	return m.execFilesystem(ctx, a, op, hash, caps.PauseBeforeMove)
}

// execNative delegates the move to the client and polls its save path until
// the relocation lands.
func (m *Manager) execNative(
	ctx context.Context, a adapter.Adapter, op *core.MoveOperation, hash string) error {

	if err := a.UpdateDirectory(ctx, hash, op.DestPathRemote); err != nil {
		return fmt.Errorf("set location: %s", err)
	}
	sp, ok := a.(savePather)
	if !ok {
		op.BytesMoved = op.TotalSize
		op.FilesMoved = op.FilesTotal
		return nil
	}
	deadline := time.Now().Add(m.config.NativeMovePollTimeout)
	for {
		path, err := sp.SavePath(ctx, hash)
		if err == nil && path == op.DestPathRemote {
			op.BytesMoved = op.TotalSize
			op.FilesMoved = op.FilesTotal
			m.setActive(op)
			m.store.UpdateProgress(op)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("native move did not land within %s", m.config.NativeMovePollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrManagerClosed
		case <-time.After(m.config.NativeMovePollInterval):
		}
	}
}

// execFilesystem performs the move through the app's local filesystem view,
// then points the client at the new remote path.
func (m *Manager) execFilesystem(
	ctx context.Context,
	a adapter.Adapter,
	op *core.MoveOperation,
	hash string,
	pauseFirst bool) error {

	srcLocal := op.SourcePathRemote
	if m.paths != nil {
		srcLocal = m.paths.TranslatePath(op.SourcePathRemote, a.Type(), a.InstanceID())
	}

	if pauseFirst {
		if err := a.Pause(ctx, hash); err != nil {
			return fmt.Errorf("pause before move: %s", err)
		}
		defer func() {
			if err := a.Resume(ctx, hash); err != nil {
				log.With("key", op.CompoundKey).Errorf("Resume after move: %s", err)
			}
		}()
	}

	_, total, err := listFiles(srcLocal)
	if err != nil {
		return fmt.Errorf("inspect source: %s", err)
	}
	op.TotalSize = total
	m.setActive(op)

	progress := func(file string, bytes int64, files int) {
		op.CurrentFile = file
		op.BytesMoved = bytes
		op.FilesMoved = files
		m.setActive(op)
		m.store.UpdateProgress(op)
	}
	bytesMoved, filesMoved, err := moveTree(srcLocal, op.DestPathLocal, progress)
	if err != nil {
		return fmt.Errorf("move tree: %s", err)
	}
	op.BytesMoved = bytesMoved
	op.FilesMoved = filesMoved
	op.FilesTotal = filesMoved

	op.Status = core.MoveVerifying
	m.setActive(op)
	if err := m.store.MarkStatus(op.CompoundKey, core.MoveVerifying); err != nil {
		return fmt.Errorf("mark verifying: %s", err)
	}
	if err := verifyTree(op.DestPathLocal, op.TotalSize); err != nil {
		return fmt.Errorf("verify dest: %s", err)
	}

	if err := a.UpdateDirectory(ctx, hash, op.DestPathRemote); err != nil && err != adapter.ErrNotSupported {
		return fmt.Errorf("update client directory: %s", err)
	}
	return nil
}
