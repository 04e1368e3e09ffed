package realtime

import (
	"github.com/core-coin/speculum/internal/models"
)

// Nop discards everything. Used where no live transport is attached, e.g. precache.
var Nop models.Emitter = nopEmitter{}

type nopEmitter struct{}

func (nopEmitter) Emit(string, interface{}) {}

type fanout []models.Emitter

// Fanout emits to every non-nil emitter in order.
func Fanout(emitters ...models.Emitter) models.Emitter {
	out := make(fanout, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return Nop
	}
	return out
}

func (f fanout) Emit(event string, payload interface{}) {
	for _, e := range f {
		e.Emit(event, payload)
	}
}

// Confirmations forwards confirmation and reorg signals of the chain adapter to an emitter.
type Confirmations struct {
	Emitter models.Emitter
}

func (c Confirmations) Report(n models.Notification) {
	payload := map[string]interface{}{
		"contract":    n.Contract,
		"blockNumber": n.BlockNumber,
	}
	if n.Payload != nil {
		payload["details"] = n.Payload
	}
	c.Emitter.Emit(string(n.Kind), payload)
}
