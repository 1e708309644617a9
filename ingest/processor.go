package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/metrics"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

// Broadcaster receives every newly stored event. Publish must not block.
type Broadcaster interface {
	Publish(ev model.DepositWithdrawEvent)
}

type BlockTimer interface {
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Processor stores decoded Deposit/Submitted events once per transaction
// hash and forwards new ones to the broadcaster.
type Processor struct {
	events *repository.EventRepository
	keys   *KeyCache
	clock  BlockTimer
	out    Broadcaster
	log    zerolog.Logger
}

func NewProcessor(events *repository.EventRepository, keys *KeyCache, clock BlockTimer, out Broadcaster, log zerolog.Logger) *Processor {
	return &Processor{
		events: events,
		keys:   keys,
		clock:  clock,
		out:    out,
		log:    log.With().Str("component", "processor").Logger(),
	}
}

// Handle is safe for concurrent and repeated delivery of the same event.
func (p *Processor) Handle(ctx context.Context, ev chain.Event) error {
	kind := string(ev.Kind)
	hash := ev.TxHash.Hex()

	exists, err := p.events.ExistsByHash(ctx, hash)
	if err != nil {
		metrics.IngestedEvents.WithLabelValues(kind, "error").Inc()
		return err
	}
	if exists {
		metrics.IngestedEvents.WithLabelValues(kind, "duplicate").Inc()
		return nil
	}

	ts, err := p.clock.BlockTime(ctx, ev.BlockNumber)
	if err != nil {
		metrics.IngestedEvents.WithLabelValues(kind, "error").Inc()
		return err
	}

	row := model.DepositWithdrawEvent{
		Amount:          model.NewWei(ev.Amount),
		Timestamp:       ts.Unix(),
		TransactionHash: hash,
		BlockNumber:     ev.BlockNumber,
	}
	switch ev.Kind {
	case chain.EventDeposit:
		row.Type = model.EventDeposit
		from := strings.ToLower(ev.From.Hex())
		row.FromAddress = &from
	case chain.EventSubmitted:
		row.Type = model.EventWithdraw
		to := strings.ToLower(ev.To.Hex())
		row.ToAddress = &to
	default:
		return chain.ErrUnknownEvent
	}
	if email, ok := p.keys.Lookup(ev.UserKey); ok {
		row.Email = &email
	}

	if err := p.events.Create(ctx, &row); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			metrics.IngestedEvents.WithLabelValues(kind, "duplicate").Inc()
			return nil
		}
		metrics.IngestedEvents.WithLabelValues(kind, "error").Inc()
		return err
	}
	metrics.IngestedEvents.WithLabelValues(kind, "stored").Inc()
	p.log.Info().Str("type", kind).Str("tx_hash", hash).Uint64("block", ev.BlockNumber).Bool("resolved", row.Email != nil).Msg("event stored")

	if p.out != nil {
		p.out.Publish(row)
	}
	return nil
}
