// Package transform normalizes decoded event fields using ABI type metadata.
package transform

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// Transformer is safe for concurrent use; it never changes after New.
type Transformer struct {
	logger *logger.Logger
	events map[string]abi.Event
}

// New builds a transformer over the concatenated event definitions of abis.
// When two ABIs define the same event name the first one wins.
func New(logger *logger.Logger, abis ...abi.ABI) *Transformer {
	events := make(map[string]abi.Event)
	for _, a := range abis {
		for name, ev := range a.Events {
			if _, ok := events[name]; !ok {
				events[name] = ev
			}
		}
	}
	return &Transformer{logger: logger, events: events}
}

// Transform returns a copy of ev without positional keys and with address inputs lowercased.
func (t *Transformer) Transform(ev models.Event) models.Event {
	out := ev
	out.ReturnValues = make(map[string]interface{}, len(ev.ReturnValues))

	def, known := t.events[ev.Event]
	if !known {
		t.logger.Warnw("No ABI entry for event, passing fields through", "event", ev.Event, "contract", ev.Contract)
	}

	for key, value := range ev.ReturnValues {
		if isPositional(key) {
			continue
		}
		if !known {
			out.ReturnValues[key] = value
			continue
		}
		input, ok := findInput(def, key)
		if !ok {
			t.logger.Warnw("No ABI input for event field", "event", ev.Event, "field", key)
			out.ReturnValues[key] = value
			continue
		}
		out.ReturnValues[key] = coerce(input, value)
	}
	return out
}

func coerce(input abi.Argument, value interface{}) interface{} {
	if input.Type.T == abi.AddressTy {
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	}
	return value
}

func findInput(ev abi.Event, name string) (abi.Argument, bool) {
	for _, input := range ev.Inputs {
		if input.Name == name {
			return input, true
		}
	}
	return abi.Argument{}, false
}

func isPositional(key string) bool {
	_, err := strconv.ParseUint(key, 10, 64)
	return err == nil
}
