// Package ingest turns omnibus Deposit/Submitted logs into stored events.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/metrics"
	"github.com/omnibus_custody/repository"
)

type State int32

const (
	StateStopped State = iota
	StateListening
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "stopped"
	}
}

const (
	DefaultReconnectBase = 5 * time.Second
	DefaultReconnectMax  = 5 * time.Minute
	CheckpointChain      = "omnibus"
	reorgWindow          = 64
	sinkSize             = 16
)

var (
	ErrAlreadyRunning     = errors.New("listener already running")
	errSubscriptionClosed = errors.New("subscription closed")
)

// Source streams event batches from block from onwards. *chain.Omnibus
// implements it.
type Source interface {
	WatchEvents(ctx context.Context, from uint64, opts chain.ScanOptions, sink chan<- *chain.EventBatch) (chain.Subscription, error)
}

type Handler interface {
	Handle(ctx context.Context, ev chain.Event) error
}

type HashReader interface {
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

type ListenerConfig struct {
	StartBlock    uint64
	Scan          chain.ScanOptions
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Listener owns the event subscription. A single run loop connects, handles
// batches, checkpoints and reconnects, so at most one reconnect is in flight.
type Listener struct {
	src         Source
	handler     Handler
	checkpoints *repository.CheckpointRepository
	hashes      HashReader
	cfg         ListenerConfig
	log         zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener builds a stopped listener. hashes may be nil, which disables
// the reorg check on resume.
func NewListener(src Source, handler Handler, checkpoints *repository.CheckpointRepository, hashes HashReader, cfg ListenerConfig, log zerolog.Logger) *Listener {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = DefaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectBase {
			cfg.ReconnectMax = cfg.ReconnectBase
		}
	}
	return &Listener{
		src:         src,
		handler:     handler,
		checkpoints: checkpoints,
		hashes:      hashes,
		cfg:         cfg,
		log:         log.With().Str("component", "listener").Logger(),
	}
}

func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	metrics.ListenerState.Set(float64(s))
}

func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.setState(StateReconnectPending)
	go l.run(ctx, l.done)
	return nil
}

// Stop cancels the run loop and waits for it to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel, l.done = nil, nil
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer l.setState(StateStopped)

	delay := l.cfg.ReconnectBase
	for {
		started, err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if started {
			delay = l.cfg.ReconnectBase
		} else {
			delay = min(delay*2, l.cfg.ReconnectMax)
		}
		l.setState(StateReconnectPending)
		metrics.ListenerReconnects.Inc()
		l.log.Warn().Err(err).Dur("backoff", delay).Msg("subscription lost, reconnecting")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one subscription until it fails. started reports whether
// the subscription was established.
func (l *Listener) session(ctx context.Context) (started bool, err error) {
	from, err := l.resumePoint(ctx)
	if err != nil {
		return false, err
	}
	sink := make(chan *chain.EventBatch, sinkSize)
	sub, err := l.src.WatchEvents(ctx, from, l.cfg.Scan, sink)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()

	l.setState(StateListening)
	l.log.Info().Uint64("from", from).Msg("listening for omnibus events")
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return true, err
		case batch := <-sink:
			if err := l.handle(ctx, batch); err != nil {
				return true, err
			}
		}
	}
}

// handle stores a batch and then checkpoints it. A failure leaves the
// checkpoint behind so the batch is replayed after reconnecting.
func (l *Listener) handle(ctx context.Context, b *chain.EventBatch) error {
	for _, ev := range b.Events {
		if err := l.handler.Handle(ctx, ev); err != nil {
			l.log.Error().Err(err).Str("tx_hash", ev.TxHash.Hex()).Uint64("block", ev.BlockNumber).Msg("event handling failed")
			return err
		}
	}
	return l.checkpoints.Save(ctx, CheckpointChain, b.To, b.ToHash.Hex())
}

// resumePoint is the block after the last checkpoint whose hash still
// matches the chain.
func (l *Listener) resumePoint(ctx context.Context) (uint64, error) {
	number, hash, ok, err := l.checkpoints.Last(ctx, CheckpointChain)
	if err != nil {
		return 0, err
	}
	if !ok {
		return l.cfg.StartBlock, nil
	}
	if l.hashes == nil || hash == "" {
		return number + 1, nil
	}
	actual, err := l.hashes.BlockHash(ctx, number)
	if err != nil {
		return 0, err
	}
	if actual.Hex() == hash {
		return number + 1, nil
	}

	// 区块回滚：找到仍在主链上的最近检查点
	recent, err := l.checkpoints.Recent(ctx, CheckpointChain, reorgWindow)
	if err != nil {
		return 0, err
	}
	rewindTo, resume := l.cfg.StartBlock, l.cfg.StartBlock
	found := false
	for _, cp := range recent {
		h, err := l.hashes.BlockHash(ctx, cp.BlockNumber)
		if err != nil {
			return 0, err
		}
		if h.Hex() == cp.BlockHash {
			rewindTo, resume, found = cp.BlockNumber, cp.BlockNumber+1, true
			break
		}
	}
	if !found && len(recent) > 0 {
		// nothing in the window survived; replay the whole window
		if oldest := recent[len(recent)-1].BlockNumber; oldest > 0 {
			rewindTo, resume = oldest-1, oldest
		}
	}
	if err := l.checkpoints.Rewind(ctx, CheckpointChain, rewindTo); err != nil {
		return 0, err
	}
	l.log.Warn().Uint64("checkpoint", number).Uint64("resume", resume).Msg("reorg detected, rewinding checkpoints")
	return resume, nil
}
