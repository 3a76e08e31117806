package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coderelay/core/internal/database/models"
)

// PollScheduler periodically fetches the latest code and relays new ones
type PollScheduler struct {
	codes      *CodeService
	delivery   *DeliveryService
	dedup      Deduper
	logService *LogService
	interval   time.Duration
	firstDelay time.Duration
	stopChan   chan struct{}
	running    bool
	mu         sync.Mutex
	polling    sync.Mutex // skips a tick while the previous one is still running
}

// NewPollScheduler creates a new poll scheduler
func NewPollScheduler(codes *CodeService, delivery *DeliveryService, dedup Deduper, logService *LogService, interval time.Duration) *PollScheduler {
	if dedup == nil {
		dedup = NewMemoryDeduper(DefaultDedupTTL)
	}
	return &PollScheduler{
		codes:      codes,
		delivery:   delivery,
		dedup:      dedup,
		logService: logService,
		interval:   interval,
		firstDelay: 10 * time.Second,
		stopChan:   make(chan struct{}),
	}
}

// Start begins polling. It does nothing when the interval is not positive.
func (s *PollScheduler) Start() {
	s.mu.Lock()
	if s.running || s.interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[PollScheduler] Starting with interval: %v", s.interval)

	go func() {
		// give the channel a moment to reconnect before the first poll
		select {
		case <-time.After(s.firstDelay):
			s.Poll(context.Background())
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Poll(context.Background())
			case <-s.stopChan:
				log.Println("[PollScheduler] Stopping")
				return
			}
		}
	}()
}

// Stop stops polling
func (s *PollScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	s.running = false
}

// PollResult describes what one poll cycle did
type PollResult string

const (
	PollSkipped   PollResult = "skipped"    // previous cycle still running
	PollNoCode    PollResult = "no_code"    // nothing new in the mailbox
	PollDuplicate PollResult = "duplicate"  // code already relayed
	PollNotReady  PollResult = "not_ready"  // channel disconnected, will retry next tick
	PollRelayed   PollResult = "relayed"    // code delivered
	PollFailed    PollResult = "failed"     // fetch or delivery error
)

// Poll runs one fetch-and-relay cycle
func (s *PollScheduler) Poll(ctx context.Context) PollResult {
	if !s.polling.TryLock() {
		log.Println("[PollScheduler] Previous poll still running, skipping this cycle")
		return PollSkipped
	}
	defer s.polling.Unlock()

	// no point fetching while the code could not be delivered
	if !s.delivery.Ready() {
		return PollNotReady
	}

	result, err := s.codes.FetchLatestCode(ctx, s.codes.DefaultLookback())
	if err != nil {
		if errors.Is(err, ErrNoMatchingMessage) || errors.Is(err, ErrNoCodeFound) {
			return PollNoCode
		}
		log.Printf("[PollScheduler] Fetch failed: %v", err)
		return PollFailed
	}

	isNew, err := s.dedup.IsNew(ctx, result.MessageID)
	if err != nil {
		log.Printf("[PollScheduler] Dedup check failed: %v", err)
		return PollFailed
	}
	if !isNew {
		return PollDuplicate
	}

	if _, err := s.delivery.SendCode(ctx, result.Code); err != nil {
		log.Printf("[PollScheduler] Relay failed: %v", err)
		if errors.Is(err, ErrChannelNotReady) {
			return PollNotReady
		}
		return PollFailed
	}

	log.Printf("[PollScheduler] Relayed code from %s", result.MessageID)
	if s.logService != nil {
		s.logService.LogInfo(models.LogModuleDelivery, "auto_relay", "Code relayed automatically", map[string]interface{}{
			"message_id": result.MessageID,
			"strategy":   result.Strategy,
		})
	}
	return PollRelayed
}
