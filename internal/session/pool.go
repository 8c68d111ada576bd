package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/pkg/logger"
	"github.com/charlesng35/sftpgate/pkg/metrics"
)

// Pool loans each handle to one operation at a time. At most maxSize handles
// exist at once: a slot is held from Acquire until the matching Release.
type Pool struct {
	connector Connector
	maxSize   int
	slots     *semaphore.Weighted
	log       *zap.Logger

	mu     sync.Mutex
	idle   []sftp.Conn
	closed bool

	inUse     atomic.Int64
	created   atomic.Int64
	discarded atomic.Int64
}

var _ Manager = (*Pool)(nil)

// NewPool returns a pool bounded to maxSize handles. Non-positive sizes use DefaultMaxPoolSize.
func NewPool(connector Connector, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxPoolSize
	}
	return &Pool{
		connector: connector,
		maxSize:   maxSize,
		slots:     semaphore.NewWeighted(int64(maxSize)),
		log:       logger.WithModule("session.pool"),
	}
}

func (p *Pool) Mode() Mode { return ModeExclusive }

// Acquire waits for a free slot, then reuses a live idle handle or connects a new one.
func (p *Pool) Acquire(ctx context.Context) (sftp.Conn, error) {
	// Checked before waiting: Shutdown queues for every slot and would block us behind it.
	if p.isClosed() {
		return nil, ErrManagerClosed
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("session: wait for pool slot: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, ErrManagerClosed
	}
	var (
		conn  sftp.Conn
		stale []sftp.Conn
	)
	for len(p.idle) > 0 {
		candidate := p.idle[0]
		p.idle = p.idle[1:]
		metrics.SessionsIdle.Dec()
		if candidate.IsConnected() {
			conn = candidate
			break
		}
		stale = append(stale, candidate)
	}
	p.mu.Unlock()

	p.discard(stale...)

	if conn == nil {
		created, err := p.connector.Connect(ctx)
		if err != nil {
			p.slots.Release(1)
			return nil, err
		}
		p.created.Add(1)
		conn = created
	}

	p.inUse.Add(1)
	metrics.SessionsInUse.Inc()
	return conn, nil
}

// Release returns a handle obtained from Acquire. Disconnected handles, and any
// handle returned after Shutdown, are closed instead of being kept.
func (p *Pool) Release(conn sftp.Conn) {
	if conn == nil {
		return
	}
	p.inUse.Add(-1)
	metrics.SessionsInUse.Dec()

	p.mu.Lock()
	keep := !p.closed && conn.IsConnected()
	if keep {
		p.idle = append(p.idle, conn)
		metrics.SessionsIdle.Inc()
	}
	p.mu.Unlock()

	if !keep {
		p.discard(conn)
	}
	p.slots.Release(1)
}

// Prune closes idle handles whose transport has dropped.
func (p *Pool) Prune() int {
	p.mu.Lock()
	live := p.idle[:0]
	var stale []sftp.Conn
	for _, conn := range p.idle {
		if conn.IsConnected() {
			live = append(live, conn)
			continue
		}
		stale = append(stale, conn)
	}
	for i := len(live); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = live
	metrics.SessionsIdle.Sub(float64(len(stale)))
	p.mu.Unlock()

	p.discard(stale...)
	return len(stale)
}

// Shutdown rejects further acquisitions, closes idle handles and waits for
// borrowed handles to come back until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	metrics.SessionsIdle.Sub(float64(len(idle)))
	p.mu.Unlock()

	var err error
	for _, conn := range idle {
		err = multierr.Append(err, conn.Close())
	}
	p.discarded.Add(int64(len(idle)))
	metrics.SessionsDiscarded.Add(float64(len(idle)))

	if waitErr := p.slots.Acquire(ctx, int64(p.maxSize)); waitErr != nil {
		p.log.Warn("shutdown with sessions still in use", zap.Int64("in_use", p.inUse.Load()))
		return multierr.Append(err, fmt.Errorf("session: wait for in-use sessions: %w", waitErr))
	}
	p.slots.Release(int64(p.maxSize))
	return err
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	closed := p.closed
	p.mu.Unlock()
	return Stats{
		Mode:      ModeExclusive.String(),
		MaxSize:   p.maxSize,
		InUse:     p.inUse.Load(),
		Idle:      idle,
		Created:   p.created.Load(),
		Discarded: p.discarded.Load(),
		Closed:    closed,
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) discard(conns ...sftp.Conn) {
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			p.log.Debug("close discarded session", zap.Error(err))
		}
		p.discarded.Add(1)
		metrics.SessionsDiscarded.Inc()
	}
}
