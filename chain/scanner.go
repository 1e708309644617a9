package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"
)

type Subscription = event.Subscription

// Configuration (tweakable)
const (
	DefaultConfirmations = uint64(12)
	DefaultPollInterval  = 3 * time.Second
	INITIAL_STEP         = uint64(200)
	MIN_STEP             = uint64(10)
	MAX_STEP             = uint64(2000)
	SUCCESS_THRESHOLD    = 5
	FAILURE_THRESHOLD    = 1
	// consecutive failed polls before the subscription reports an error
	DefaultMaxFailures = 3
)

type ScanOptions struct {
	Confirmations uint64
	PollInterval  time.Duration
	MaxFailures   int
}

// Scanner polls eth_getLogs over confirmed block ranges, growing the range
// while the node keeps up and halving it when a query fails.
type Scanner struct {
	backend   Backend
	addresses []common.Address
	topics    [][]common.Hash
	opts      ScanOptions
	log       zerolog.Logger

	mu           sync.Mutex
	step         uint64
	successCount int
	failureCount int
}

func NewScanner(backend Backend, addresses []common.Address, topics [][]common.Hash, opts ScanOptions, log zerolog.Logger) *Scanner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Scanner{
		backend:   backend,
		addresses: addresses,
		topics:    topics,
		opts:      opts,
		log:       log.With().Str("component", "scanner").Logger(),
		step:      INITIAL_STEP,
	}
}

func (s *Scanner) Step() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Scanner) adjustStepOnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
	s.failureCount = 0
	if s.successCount >= SUCCESS_THRESHOLD {
		newStep := uint64(float64(s.step) * 1.5)
		if newStep > MAX_STEP {
			newStep = MAX_STEP
		}
		if newStep > s.step {
			s.log.Debug().Uint64("from", s.step).Uint64("to", newStep).Msg("increase step")
			s.step = newStep
		}
		s.successCount = 0
	}
}

func (s *Scanner) adjustStepOnFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	s.successCount = 0
	if s.failureCount >= FAILURE_THRESHOLD {
		newStep := uint64(float64(s.step) * 0.5)
		if newStep < MIN_STEP {
			newStep = MIN_STEP
		}
		if newStep < s.step {
			s.log.Debug().Uint64("from", s.step).Uint64("to", newStep).Msg("decrease step")
			s.step = newStep
		}
		s.failureCount = 0
	}
}

// ScanOnce reads the next confirmed range starting at start. It returns nil
// when start is beyond the confirmed head.
func (s *Scanner) ScanOnce(ctx context.Context, start uint64) (*EventBatch, error) {
	latest, err := s.backend.BlockNumber(ctx)
	if err != nil {
		s.adjustStepOnFailure()
		return nil, err
	}
	if latest < s.opts.Confirmations {
		return nil, nil
	}
	safe := latest - s.opts.Confirmations
	if start > safe {
		return nil, nil
	}

	end := min(start+s.Step()-1, safe)
	s.log.Debug().Uint64("from", start).Uint64("to", end).Uint64("safe", safe).Msg("scan range")

	logs, err := s.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: s.addresses,
		Topics:    s.topics,
	})
	if err != nil {
		s.log.Warn().Err(err).Uint64("from", start).Uint64("to", end).Msg("FilterLogs error")
		s.adjustStepOnFailure()
		return nil, err
	}
	header, err := s.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(end))
	if err != nil {
		s.adjustStepOnFailure()
		return nil, err
	}

	batch := &EventBatch{From: start, To: end, ToHash: header.Hash()}
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := DecodeEvent(l)
		if err != nil {
			s.log.Warn().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("skip undecodable log")
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	s.adjustStepOnSuccess()
	return batch, nil
}

// Subscribe delivers batches to sink starting at block from. Transient
// failures are retried on the next poll; after MaxFailures in a row the
// subscription ends with the last error.
func (s *Scanner) Subscribe(ctx context.Context, from uint64, sink chan<- *EventBatch) Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		next, failures := from, 0
		for {
			batch, err := s.ScanOnce(ctx, next)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				failures++
				if failures >= s.opts.MaxFailures {
					return err
				}
			} else {
				failures = 0
			}
			if batch != nil {
				select {
				case sink <- batch:
					next = batch.To + 1
					continue
				case <-ctx.Done():
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}
