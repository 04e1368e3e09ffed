package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// Contract is one watched contract of a domain.
type Contract struct {
	// Name is "<domain>.<contract>" and keys the persisted cursor.
	Name          string
	Domain        models.Domain
	Address       common.Address
	Decoder       *Decoder
	StartBlock    uint64
	BatchSize     uint64
	Confirmations uint64
}

// LogFetcher pages historical logs of one contract from its persisted cursor up to the
// confirmed head. The cursor advances once a batch has been consumed.
type LogFetcher struct {
	logger   *logger.Logger
	chain    Chain
	cursors  models.CursorRepository
	contract Contract
}

func NewLogFetcher(logger *logger.Logger, chain Chain, cursors models.CursorRepository, contract Contract) *LogFetcher {
	if contract.BatchSize == 0 {
		contract.BatchSize = 5000
	}
	return &LogFetcher{logger: logger, chain: chain, cursors: cursors, contract: contract}
}

func (f *LogFetcher) Name() string {
	return f.contract.Name
}

func (f *LogFetcher) Fetch(context.Context) models.BatchIterator {
	return &logIterator{fetcher: f}
}

func (f *LogFetcher) Close() error {
	return nil
}

// next returns the first block still to fetch.
func (f *LogFetcher) next(ctx context.Context) (uint64, error) {
	cursor, err := f.cursors.GetCursor(ctx, f.contract.Name)
	if err != nil {
		return 0, err
	}
	if cursor == nil {
		return f.contract.StartBlock, nil
	}
	return max(cursor.LastProcessedBlock+1, f.contract.StartBlock), nil
}

func (f *LogFetcher) confirmedHead(ctx context.Context) (uint64, bool, error) {
	head, err := f.chain.BlockNumber(ctx)
	if err != nil {
		return 0, false, err
	}
	if head < f.contract.Confirmations {
		return 0, false, nil
	}
	return head - f.contract.Confirmations, true, nil
}

func (f *LogFetcher) fetchRange(ctx context.Context, from, to uint64) ([]models.Event, error) {
	logs, err := f.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{f.contract.Address},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs %d-%d of %s: %w", from, to, f.contract.Name, err)
	}

	events := make([]models.Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		ev, err := f.contract.Decoder.Decode(log)
		if errors.Is(err, ErrUnknownEvent) {
			f.logger.Debugw("Skipping log of unknown event", "contract", f.contract.Name, "block", log.BlockNumber, "tx", log.TxHash.Hex())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode log %s/%d: %w", log.TxHash.Hex(), log.Index, err)
		}
		ev.Contract = f.contract.Name
		events = append(events, ev)
	}
	return events, nil
}

func (f *LogFetcher) commit(ctx context.Context, block uint64) error {
	return f.cursors.SaveCursor(ctx, &models.EventCursor{
		Contract:           f.contract.Name,
		Domain:             f.contract.Domain,
		LastProcessedBlock: block,
	})
}

type logIterator struct {
	fetcher *LogFetcher

	started bool
	from    uint64
	head    uint64
	done    bool

	batch   models.Batch
	pending bool
	err     error
}

func (it *logIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	f := it.fetcher

	if it.pending {
		if err := f.commit(ctx, it.batch.ToBlock); err != nil {
			it.err = err
			return false
		}
		it.pending = false
	}

	if !it.started {
		it.started = true
		from, err := f.next(ctx)
		if err != nil {
			it.err = err
			return false
		}
		head, ok, err := f.confirmedHead(ctx)
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			it.done = true
			return false
		}
		it.from, it.head = from, head
	}

	if it.from > it.head {
		it.done = true
		return false
	}

	to := min(it.from+f.contract.BatchSize-1, it.head)
	events, err := f.fetchRange(ctx, it.from, to)
	if err != nil {
		it.err = err
		return false
	}
	it.batch = models.Batch{FromBlock: it.from, ToBlock: to, Events: events}
	it.pending = true
	it.from = to + 1
	return true
}

func (it *logIterator) Batch() models.Batch {
	return it.batch
}

func (it *logIterator) Err() error {
	return it.err
}
