// Package postback delivers conversion notifications to traffic
// channel S2S endpoints through a bounded asynchronous queue.
package postback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/storage"
)

// Job is one outbound postback. URL is fully rendered before enqueue.
type Job struct {
	ConversionID string
	ClickID      string
	URL          string
}

// Options tunes the sender. Zero values fall back to the defaults.
type Options struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
}

// Sender drains the queue with a fixed worker pool. Enqueue never
// blocks the tracking path; when the queue is full the job is dropped
// and counted.
type Sender struct {
	opts        Options
	queue       chan *Job
	client      *http.Client
	conversions storage.ConversionRepo
	logger      *zap.Logger
	metrics     *metrics.Metrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	quit     chan struct{}
}

func NewSender(opts Options, conversions storage.ConversionRepo, logger *zap.Logger, m *metrics.Metrics) *Sender {
	opts.setDefaults()
	return &Sender{
		opts:        opts,
		queue:       make(chan *Job, opts.QueueSize),
		client:      &http.Client{Timeout: opts.SendTimeout},
		conversions: conversions,
		logger:      logger,
		metrics:     m,
		quit:        make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Sender) Start() {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop drains in-flight jobs and shuts the pool down.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
}

// Enqueue queues a postback for delivery. Returns false when the queue
// is full; the job is dropped rather than stalling the caller.
func (s *Sender) Enqueue(job *Job) bool {
	select {
	case s.queue <- job:
		s.metrics.PostbackQueueSize.Set(float64(len(s.queue)))
		return true
	default:
		s.metrics.RecordPostback("dropped")
		s.logger.Warn("postback queue full, dropping job",
			zap.String("conversion_id", job.ConversionID),
			zap.String("click_id", job.ClickID))
		return false
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			// drain what is already queued, then exit
			for {
				select {
				case job := <-s.queue:
					s.deliver(job)
				default:
					return
				}
			}
		case job := <-s.queue:
			s.deliver(job)
			s.metrics.PostbackQueueSize.Set(float64(len(s.queue)))
		}
	}
}

// deliver attempts the postback with retries. Any 2xx response counts
// as delivered.
func (s *Sender) deliver(job *Job) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		body, err := s.send(job.URL)
		if err == nil {
			s.metrics.RecordPostback("success")
			s.recordResult(job, true, body)
			return
		}
		lastErr = err
		s.logger.Warn("postback attempt failed",
			zap.String("conversion_id", job.ConversionID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < s.opts.MaxRetries {
			select {
			case <-s.quit:
			case <-time.After(s.opts.RetryDelay):
			}
		}
	}

	s.metrics.RecordPostback("failed")
	s.logger.Error("postback delivery failed",
		zap.String("conversion_id", job.ConversionID),
		zap.String("url", job.URL),
		zap.Error(lastErr))
	s.recordResult(job, false, lastErr.Error())
}

func (s *Sender) send(url string) (string, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("postback returned %d", resp.StatusCode)
	}
	return string(body), nil
}

func (s *Sender) recordResult(job *Job, sent bool, response string) {
	if job.ConversionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.conversions.UpdatePostbackResult(ctx, job.ConversionID, sent, response); err != nil {
		s.logger.Warn("record postback result failed",
			zap.String("conversion_id", job.ConversionID),
			zap.Error(err))
	}
}
