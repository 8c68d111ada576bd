package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/pkg/logger"
	"github.com/charlesng35/sftpgate/pkg/metrics"
)

// maxLoans bounds concurrent loans of the shared handle; Shutdown takes all of
// them to wait for outstanding operations.
const maxLoans = math.MaxInt32

// Single keeps one long-lived handle and shares it between callers. When the
// transport cannot serve concurrent requests, callers take turns on it.
type Single struct {
	connector Connector
	exclusive *semaphore.Weighted
	loans     *semaphore.Weighted
	log       *zap.Logger

	// mu covers the whole check-or-reconnect section so one caller reconnects at a time.
	mu     sync.Mutex
	conn   sftp.Conn
	closed bool

	inUse     atomic.Int64
	created   atomic.Int64
	discarded atomic.Int64
}

var _ Manager = (*Single)(nil)

func NewSingle(connector Connector) *Single {
	return &Single{
		connector: connector,
		exclusive: semaphore.NewWeighted(1),
		loans:     semaphore.NewWeighted(maxLoans),
		log:       logger.WithModule("session.single"),
	}
}

func (s *Single) Mode() Mode { return ModeShared }

// Acquire returns the shared handle, reconnecting first if it has dropped.
func (s *Single) Acquire(ctx context.Context) (sftp.Conn, error) {
	s.mu.Lock()
	if s.closed || !s.loans.TryAcquire(1) {
		s.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s.conn != nil && !s.conn.IsConnected() {
		s.log.Info("shared sftp session disconnected, reconnecting")
		s.discardLocked()
	}
	if s.conn == nil {
		conn, err := s.connector.Connect(ctx)
		if err != nil {
			s.loans.Release(1)
			s.mu.Unlock()
			return nil, err
		}
		s.created.Add(1)
		s.conn = conn
	}
	conn := s.conn
	s.mu.Unlock()

	if !conn.SupportsConcurrentUse() {
		if err := s.exclusive.Acquire(ctx, 1); err != nil {
			s.loans.Release(1)
			return nil, fmt.Errorf("session: wait for shared session: %w", err)
		}
	}

	s.inUse.Add(1)
	metrics.SessionsInUse.Inc()
	return conn, nil
}

// Release ends a loan. The handle stays open for the next caller.
func (s *Single) Release(conn sftp.Conn) {
	if conn == nil {
		return
	}
	s.inUse.Add(-1)
	metrics.SessionsInUse.Dec()
	if !conn.SupportsConcurrentUse() {
		s.exclusive.Release(1)
	}
	s.loans.Release(1)
}

// Prune closes the shared handle if its transport has dropped.
func (s *Single) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsConnected() {
		return 0
	}
	s.discardLocked()
	return 1
}

// Shutdown rejects further acquisitions, waits until ctx ends for loaned
// handles to come back and then closes the shared handle.
func (s *Single) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if waitErr := s.loans.Acquire(ctx, maxLoans); waitErr != nil {
		s.log.Warn("shutdown with shared session still in use", zap.Int64("in_use", s.inUse.Load()))
		err = fmt.Errorf("session: wait for in-use session: %w", waitErr)
	} else {
		s.loans.Release(maxLoans)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return err
	}
	err = multierr.Append(err, s.conn.Close())
	s.conn = nil
	s.discarded.Add(1)
	metrics.SessionsDiscarded.Inc()
	return err
}

func (s *Single) Stats() Stats {
	s.mu.Lock()
	idle := 0
	if s.conn != nil {
		idle = 1
	}
	closed := s.closed
	s.mu.Unlock()
	return Stats{
		Mode:      ModeShared.String(),
		MaxSize:   1,
		InUse:     s.inUse.Load(),
		Idle:      idle,
		Created:   s.created.Load(),
		Discarded: s.discarded.Load(),
		Closed:    closed,
	}
}

func (s *Single) discardLocked() {
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close stale session", zap.Error(err))
	}
	s.conn = nil
	s.discarded.Add(1)
	metrics.SessionsDiscarded.Inc()
}
