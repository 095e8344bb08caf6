package publisher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/errors"
	"github.com/mcncl/log-request-id/internal/logging"
	"github.com/mcncl/log-request-id/internal/metrics"
	mwlogging "github.com/mcncl/log-request-id/internal/middleware/logging"
)

// Attribute names set on every summary message
const (
	AttrRequestID = "request_id"
	AttrMethod    = "method"
	AttrStatus    = "status"
)

// SinkConfig configures a SummarySink
type SinkConfig struct {
	// QueueSize bounds the number of summaries waiting to be published
	QueueSize int
	// PublishTimeout bounds each publish call
	PublishTimeout time.Duration
	Logger         logging.Logger
}

// SummarySink publishes request summaries in the background. Record never
// blocks: when the queue is full the summary is dropped and counted.
type SummarySink struct {
	pub     Publisher
	cfg     SinkConfig
	queue   chan mwlogging.Summary
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	closeMu sync.Once
}

// NewSummarySink starts the publishing goroutine. Close must be called to stop it.
func NewSummarySink(pub Publisher, cfg SinkConfig) *SummarySink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &SummarySink{
		pub:    pub,
		cfg:    cfg,
		queue:  make(chan mwlogging.Summary, cfg.QueueSize),
		base:   base,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record queues sum for publishing
func (s *SummarySink) Record(_ context.Context, sum mwlogging.Summary) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		metrics.RecordSummaryPublished("dropped")
		return
	}

	select {
	case s.queue <- sum:
	default:
		metrics.RecordSummaryPublished("dropped")
	}
}

func (s *SummarySink) run() {
	defer s.wg.Done()
	for sum := range s.queue {
		s.publish(sum)
	}
}

func (s *SummarySink) publish(sum mwlogging.Summary) {
	// The request is over; a fresh scope keeps the ID on anything logged here.
	ctx := correlation.WithScope(s.base, correlation.NewScope(correlation.Identity{
		ID:     sum.RequestID,
		UserID: sum.UserID,
	}))
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	attrs := map[string]string{
		AttrRequestID: sum.RequestID,
		AttrMethod:    sum.Method,
		AttrStatus:    strconv.Itoa(sum.Status),
	}

	_, err := s.pub.Publish(ctx, sum, attrs)
	switch {
	case err == nil:
		metrics.RecordSummaryPublished("success")
	case errors.IsConnectionError(err):
		metrics.RecordSummaryPublished("rejected")
	default:
		metrics.RecordSummaryPublished("error")
		metrics.RecordError("summary_publish")
		s.cfg.Logger.WithContext(ctx).WithError(err).Warn("failed to publish request summary")
	}
}

// Close stops accepting summaries, publishes what is queued and closes the
// publisher. When ctx ends first, in-flight and queued publishes are cancelled.
func (s *SummarySink) Close(ctx context.Context) error {
	var err error
	s.closeMu.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			err = errors.Wrap(ctx.Err(), "summary sink did not drain")
			s.cancel()
			<-drained
		}
		s.cancel()

		if cerr := s.pub.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
