package blockchain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/core-coin/speculum/internal/models"
)

// ErrUnknownEvent is returned for logs whose topic0 is not an event of the decoder's ABI.
var ErrUnknownEvent = errors.New("unknown event signature")

// Decoder turns raw logs of one contract into events with JSON-friendly values:
// addresses as lowercase hex, integers as decimal strings, bytes as 0x hex.
type Decoder struct {
	events map[common.Hash]abi.Event
}

func NewDecoder(contractABI abi.ABI) *Decoder {
	events := make(map[common.Hash]abi.Event, len(contractABI.Events))
	for _, event := range contractABI.Events {
		events[event.ID] = event
	}
	return &Decoder{events: events}
}

// Decode decodes one log. Logs of events outside the ABI yield ErrUnknownEvent.
func (d *Decoder) Decode(log types.Log) (models.Event, error) {
	if len(log.Topics) == 0 {
		return models.Event{}, fmt.Errorf("%w: log has no topics", ErrUnknownEvent)
	}
	event, ok := d.events[log.Topics[0]]
	if !ok {
		return models.Event{}, fmt.Errorf("%w: %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	values := make(map[string]interface{}, len(event.Inputs))
	if len(log.Data) > 0 {
		unpacked, err := event.Inputs.NonIndexed().UnpackValues(log.Data)
		if err != nil {
			return models.Event{}, fmt.Errorf("failed to unpack %s data: %w", event.Name, err)
		}
		for i, input := range event.Inputs.NonIndexed() {
			if i < len(unpacked) {
				values[input.Name] = jsonValue(unpacked[i])
			}
		}
	}

	topic := 1
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if topic >= len(log.Topics) {
			return models.Event{}, fmt.Errorf("%s log is missing indexed %s", event.Name, input.Name)
		}
		values[input.Name] = indexedValue(input, log.Topics[topic])
		topic++
	}

	return models.Event{
		Event:           event.Name,
		Address:         strings.ToLower(log.Address.Hex()),
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash.Hex(),
		LogIndex:        log.Index,
		ReturnValues:    values,
	}, nil
}

func indexedValue(input abi.Argument, topic common.Hash) interface{} {
	switch input.Type.T {
	case abi.AddressTy:
		return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
	case abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes()).String()
	case abi.IntTy:
		v := new(big.Int).SetBytes(topic.Bytes())
		if topic[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		return v.String()
	case abi.BoolTy:
		return topic[31] == 1
	default:
		// dynamic indexed types only carry their hash
		return topic.Hex()
	}
}

func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case common.Address:
		return strings.ToLower(x.Hex())
	case *big.Int:
		return x.String()
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprint(x)
	case [32]byte:
		return hexutil.Encode(x[:])
	case []byte:
		return hexutil.Encode(x)
	default:
		return x
	}
}
