package runlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Franck-F/fairness-sub000/internal/observability"
	"github.com/Franck-F/fairness-sub000/models"
	"github.com/Franck-F/fairness-sub000/repositories"
	"go.uber.org/zap"
)

// insertTimeout bounds a single run event write
const insertTimeout = 5 * time.Second

// Service persists run events asynchronously
type Service struct {
	repo        repositories.RunEventRepository
	metrics     *observability.Metrics
	logger      *zap.Logger
	eventChan   chan *models.RunEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the run event service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  256,
		WorkerCount: 2,
	}
}

// NewService creates a new run event Service
func NewService(repo repositories.RunEventRepository, metrics *observability.Metrics, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		repo:        repo,
		metrics:     metrics,
		logger:      logger,
		eventChan:   make(chan *models.RunEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("run event service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started run event service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for pending ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("run event service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping run event service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("run event service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("run event service stop timeout after %v", timeout)
	}
}

// Record queues an event without blocking. A full queue drops the event.
func (s *Service) Record(event *models.RunEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("run event service not running")
	}

	select {
	case s.eventChan <- event:
		s.metrics.RunEventQueueDepth.Set(float64(len(s.eventChan)))
		return nil
	default:
		s.metrics.RunEventsDropped.Inc()
		s.logger.Warn("run event channel full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("audit_id", event.AuditID.String()))
		return fmt.Errorf("run event buffer full")
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("run event worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		s.metrics.RunEventQueueDepth.Set(float64(len(s.eventChan)))
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to persist run event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("kind", string(event.Kind)),
				zap.String("audit_id", event.AuditID.String()))
		}
	}

	s.logger.Debug("run event worker stopped", zap.Int("worker_id", id))
}

func (s *Service) processEvent(event *models.RunEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert run event: %w", err)
	}
	return nil
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents run event service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
