package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/command-bridge/models"
	"github.com/upb/command-bridge/repositories"
	"go.uber.org/zap"
)

// Recorder accepts connection lifecycle events. Record never blocks.
type Recorder interface {
	Record(event *models.ConnectionEvent)
}

// NoopRecorder discards events; used when no database is configured.
type NoopRecorder struct{}

// Record implements Recorder
func (NoopRecorder) Record(*models.ConnectionEvent) {}

// Service writes connection events to the repository from a buffered
// channel drained by a fixed pool of workers.
type Service struct {
	repo        repositories.ConnectionEventRepository
	logger      *zap.Logger
	events      chan *models.ConnectionEvent
	workerCount int
	batchSize   int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
	stopped     bool
	dropped     uint64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
	BatchSize   int // Max events written per transaction
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
		BatchSize:   50,
	}
}

// NewService creates a new audit Service
func NewService(repo repositories.ConnectionEventRepository, logger *zap.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Service{
		repo:        repo,
		logger:      logger,
		events:      make(chan *models.ConnectionEvent, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		batchSize:   cfg.BatchSize,
		bufferSize:  cfg.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.started = true

	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))
	return nil
}

// Stop stops accepting events and waits for queued ones to be written.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.events)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event. A full buffer drops the event with a warning.
func (s *Service) Record(event *models.ConnectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return
	}

	select {
	case s.events <- event:
	default:
		s.dropped++
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("connection_id", event.ConnectionID))
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for event := range s.events {
		batch := []*models.ConnectionEvent{event}
	drain:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		if err := s.write(batch); err != nil {
			s.logger.Error("failed to write audit events",
				zap.Int("worker_id", id),
				zap.Int("count", len(batch)),
				zap.Error(err))
		}
	}
}

func (s *Service) write(batch []*models.ConnectionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(batch) == 1 {
		return s.repo.Insert(ctx, batch[0])
	}
	return s.repo.InsertBatch(ctx, batch)
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int    `json:"buffer_size"`
	PendingEvents int    `json:"pending_events"`
	WorkerCount   int    `json:"worker_count"`
	Dropped       uint64 `json:"dropped"`
	Started       bool   `json:"started"`
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped,
		Started:       s.started && !s.stopped,
	}
}
