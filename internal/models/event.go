package models

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Event is one decoded contract log.
type Event struct {
	// Event is the ABI event name, e.g. "Staked".
	Event string `json:"event"`
	// Contract is the configured contract name the log came from.
	Contract string `json:"contract"`
	// Address is the emitting contract address.
	Address string `json:"address"`
	// BlockNumber is the block the log was included in.
	BlockNumber uint64 `json:"blockNumber"`
	// TransactionHash is the hash of the emitting transaction.
	TransactionHash string `json:"transactionHash"`
	// LogIndex is the position of the log inside the block.
	LogIndex uint `json:"logIndex"`
	// ReturnValues holds the decoded event arguments keyed by input name.
	ReturnValues map[string]interface{} `json:"returnValues"`
}

// String returns the named return value as a string.
func (e Event) String(name string) (string, error) {
	raw, ok := e.ReturnValues[name]
	if !ok {
		return "", fmt.Errorf("event %s has no field %q", e.Event, name)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Decimal returns the named return value as an arbitrary precision decimal.
// Integer inputs are wei-scale and decoded without any float conversion.
func (e Event) Decimal(name string) (decimal.Decimal, error) {
	raw, ok := e.ReturnValues[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("event %s has no field %q", e.Event, name)
	}
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("event %s field %q is not a number: %w", e.Event, name, err)
		}
		return d, nil
	case *big.Int:
		return decimal.NewFromBigInt(v, 0), nil
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), nil
	default:
		return decimal.Zero, fmt.Errorf("event %s field %q has unsupported type %T", e.Event, name, raw)
	}
}

// Wrap tags the event's return values with the originating event name.
// Every payload handed to an Emitter goes through here.
func Wrap(e Event) map[string]interface{} {
	out := make(map[string]interface{}, len(e.ReturnValues)+1)
	for k, v := range e.ReturnValues {
		out[k] = v
	}
	out["event"] = e.Event
	return out
}

// Batch is one page of historical events, in on-chain order.
type Batch struct {
	// FromBlock and ToBlock bound the block range the batch covers.
	FromBlock uint64
	ToBlock   uint64
	Events    []Event
}

// BatchIterator walks the historical batches of one contract.
// It follows the sql.Rows convention: call Next until it returns false, then check Err.
type BatchIterator interface {
	Next(ctx context.Context) bool
	Batch() Batch
	Err() error
}

// Fetcher produces the historical, finite batch sequence for one contract.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) BatchIterator
	Close() error
}

// NotificationKind is the type of signal a live source emits.
type NotificationKind string

const (
	NewEvent            NotificationKind = "newEvent"
	NewConfirmation     NotificationKind = "newConfirmation"
	InvalidConfirmation NotificationKind = "invalidConfirmation"
	ReorgOutOfRange     NotificationKind = "reorgOutOfRange"
	StreamError         NotificationKind = "error"
)

// Notification is one signal from a live source.
type Notification struct {
	Kind NotificationKind
	// Contract is the contract name the signal belongs to.
	Contract string
	// Event is set for NewEvent.
	Event *Event
	// BlockNumber is set for ReorgOutOfRange and confirmation signals.
	BlockNumber uint64
	// Payload carries source-specific confirmation details.
	Payload interface{}
	// Err is set for StreamError.
	Err error
}

// LiveSource tails a contract and pushes notifications until ctx is done.
type LiveSource interface {
	Name() string
	Subscribe(ctx context.Context) (<-chan Notification, error)
	Close() error
}

// ConfirmationReporter receives every non-event signal of a live source verbatim.
type ConfirmationReporter interface {
	Report(n Notification)
}

// ProgressReporter is told about every drained precache batch.
type ProgressReporter interface {
	Report(contract string, events int)
}
