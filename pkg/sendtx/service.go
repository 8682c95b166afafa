package sendtx

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrSubmitQueueFull is returned when the inbound channel is saturated.
var ErrSubmitQueueFull = errors.New("submit queue full")

// Service is the transaction forwarding service.
//
// Start launches the worker goroutines; Stop shuts them down cooperatively.
// Any worker that hits a fatal error stores the shared exit flag on its way
// out, so the remaining workers wind down on their next iteration.
type Service struct {
	config    Config
	rpc       RPCClient
	info      *serviceInfo
	pending   *pendingMap
	forwarder Forwarder
	metrics   *Metrics

	incoming chan *TransactionInfo
	closed   atomic.Bool

	// mockGen, when set, drives the mock transaction generator thread.
	mockGen     func() *TransactionInfo
	mockGenRate time.Duration

	exit     atomic.Bool
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService wires a forwarding service from its collaborators.
func NewService(config Config, rpc RPCClient, table ContactLookup, forwarder Forwarder, reg prometheus.Registerer) (*Service, error) {
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Service{
		config:    config,
		rpc:       rpc,
		info:      newServiceInfo(rpc, table),
		pending:   newPendingMap(),
		forwarder: forwarder,
		metrics:   metrics,
		incoming:  make(chan *TransactionInfo, config.SubmitQueueSize),
		quit:      make(chan struct{}),
	}, nil
}

// WithMockGenerator installs the mock transaction generator, which feeds the
// inbound channel at the given rate once the service starts. Test and
// load-generation deployments only.
func (s *Service) WithMockGenerator(rate time.Duration, gen func() *TransactionInfo) {
	s.mockGenRate = rate
	s.mockGen = gen
}

// Start performs the initial service-info refresh and launches the workers.
func (s *Service) Start(ctx context.Context) {
	if err := s.info.refresh(ctx); err != nil {
		log.Printf("sendtx: initial refresh failed: %v", err)
	}

	s.wg.Add(3)
	go s.runRefresher(ctx)
	go s.runReceiver()
	go s.runProcessor(ctx)

	if s.mockGen != nil {
		s.wg.Add(1)
		go s.runMockGenerator()
	}
}

// Submit queues a transaction for forwarding. It does not block: a full
// queue is reported as an error.
func (s *Service) Submit(info *TransactionInfo) error {
	if s.exit.Load() || s.closed.Load() {
		return ErrServiceClosed
	}
	select {
	case s.incoming <- info:
		return nil
	default:
		return ErrSubmitQueueFull
	}
}

// CloseSubmissions closes the inbound channel; the receiver drains what is
// left and exits.
func (s *Service) CloseSubmissions() {
	if !s.closed.Swap(true) {
		close(s.incoming)
	}
}

// Stop shuts the service down and waits for the workers.
func (s *Service) Stop() {
	s.exit.Store(true)
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}

// Join blocks until every worker has returned.
func (s *Service) Join() {
	s.wg.Wait()
}

// Exited reports whether the shared exit flag is set.
func (s *Service) Exited() bool {
	return s.exit.Load()
}

// PendingLen returns the current pending-pool size.
func (s *Service) PendingLen() int {
	return s.pending.Len()
}

// runRefresher re-snapshots service info on a timer. A failed refresh keeps
// the previous snapshot.
func (s *Service) runRefresher(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RefreshRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.exit.Load() {
				return
			}
			if err := s.info.refresh(ctx); err != nil {
				log.Printf("sendtx: refresh failed: %v", err)
			}
		case <-s.quit:
			return
		}
	}
}

// runReceiver drains the inbound channel, deduplicates against the batch and
// the pending pool, and triggers sends by size or age.
func (s *Service) runReceiver() {
	defer s.wg.Done()

	var batch []*TransactionInfo
	inBatch := make(map[types.Signature]bool)
	lastSent := time.Now()

	flush := time.NewTicker(s.config.BatchSendRate)
	defer flush.Stop()

	for !s.exit.Load() {
		select {
		case info, ok := <-s.incoming:
			if !ok {
				return
			}
			s.metrics.received.Inc()
			if !inBatch[info.Signature] && !s.pending.Contains(info.Signature) {
				batch = append(batch, info)
				inBatch[info.Signature] = true
			}
		case <-flush.C:
		case <-s.quit:
			return
		}

		if len(batch) < s.config.BatchSize &&
			(len(batch) == 0 || time.Since(lastSent) < s.config.BatchSendRate) {
			continue
		}

		if err := s.sendTransactions(batch); err != nil {
			log.Printf("sendtx: receiver send failed: %v", err)
			s.exit.Store(true)
			return
		}
		s.pending.InsertBatch(batch, s.config.MaxPendingPoolSize, time.Now())
		s.metrics.pendingSize.Set(float64(s.pending.Len()))

		lastSent = time.Now()
		batch = batch[:0]
		inBatch = make(map[types.Signature]bool)
	}
}

// runProcessor polls signature statuses and applies the drop/retry policy.
func (s *Service) runProcessor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ProcessTransactionsRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.exit.Load() {
				return
			}
			if err := s.processTransactions(ctx); err != nil {
				log.Printf("sendtx: processor failed: %v", err)
				s.exit.Store(true)
				return
			}
		case <-s.quit:
			return
		}
	}
}

// processTransactions runs one processor tick. The pending pool stays
// write-locked for the whole pass, and the oracle calls run under the
// service-info write lock, so retry decisions are linearized against sends
// and refreshes.
func (s *Service) processTransactions(ctx context.Context) error {
	started := time.Now()
	defer func() {
		s.metrics.processPass.Observe(float64(time.Since(started).Milliseconds()))
	}()

	s.pending.mu.Lock()
	defer s.pending.mu.Unlock()

	if len(s.pending.infos) == 0 {
		return nil
	}
	sigs := s.pending.signaturesLocked()

	s.info.mu.Lock()
	blockHeight, err := s.rpc.GetBlockHeight(ctx)
	var statuses []*SignatureStatus
	if err == nil {
		statuses, err = s.rpc.GetSignatureStatuses(ctx, sigs, false)
	}
	s.info.mu.Unlock()
	if err != nil {
		return err
	}

	now := time.Now()
	drop := make(map[types.Signature]bool)
	var retry []*TransactionInfo

	for i, sig := range sigs {
		info := s.pending.infos[sig]
		status := statuses[i]

		switch {
		case status != nil && status.Rooted():
			drop[sig] = true
			s.metrics.dropped.WithLabelValues("rooted").Inc()

		case status != nil && status.Failed():
			drop[sig] = true
			s.metrics.dropped.WithLabelValues("failed").Inc()

		case status != nil && info.LastValidBlockHeight < blockHeight:
			drop[sig] = true
			s.metrics.dropped.WithLabelValues("expired").Inc()

		case status == nil:
			if info.MaxRetries != nil && info.Retries >= *info.MaxRetries {
				drop[sig] = true
				s.metrics.dropped.WithLabelValues("max_retries").Inc()
				continue
			}
			if info.LastSentTime == nil ||
				now.Sub(*info.LastSentTime) >= s.config.ProcessTransactionsRate {
				if info.LastSentTime != nil {
					info.Retries++
					s.metrics.retried.Inc()
				}
				sent := now
				info.LastSentTime = &sent
				retry = append(retry, info)
			}
		}
	}

	for start := 0; start < len(retry); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(retry) {
			end = len(retry)
		}
		if err := s.sendTransactions(retry[start:end]); err != nil {
			return err
		}
	}

	s.pending.removeLocked(drop)
	s.metrics.pendingSize.Set(float64(len(s.pending.infos)))
	return nil
}

// sendTransactions resolves the upcoming leaders and pushes the batch's wire
// bytes through the forwarder.
func (s *Service) sendTransactions(batch []*TransactionInfo) error {
	if len(batch) == 0 {
		return nil
	}
	started := time.Now()
	defer func() {
		s.metrics.batchSend.Observe(float64(time.Since(started).Milliseconds()))
	}()

	addrs, err := s.info.getLeaderAddresses(s.config.LeaderForwardCount)
	if err != nil {
		return err
	}

	wire := make([][]byte, len(batch))
	for i, info := range batch {
		wire[i] = info.WireTransaction
	}
	if err := s.forwarder.ForwardBatch(addrs, wire); err != nil {
		return err
	}
	s.metrics.sent.Add(float64(len(batch)))
	return nil
}

// runMockGenerator feeds generated transactions into the inbound channel.
func (s *Service) runMockGenerator() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.mockGenRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.exit.Load() {
				return
			}
			if info := s.mockGen(); info != nil {
				if err := s.Submit(info); err != nil {
					log.Printf("sendtx: mock generator: %v", err)
				}
			}
		case <-s.quit:
			return
		}
	}
}
