package badgerdb

import (
	"encoding/json"
	"fmt"

	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

// createDB opens a badgerhold store at the given dir, or a volatile
// in-memory one when dir is empty.
func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Events are stored as a typed JSON envelope so the interface slice survives
// a round trip through the store.
type eventEnvelope struct {
	Type    string
	Payload json.RawMessage
}

func serializeEvents(events []domain.SwapEvent) ([][]byte, error) {
	buf := make([][]byte, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		envelope, err := json.Marshal(eventEnvelope{
			Type:    eventTypeName(event),
			Payload: payload,
		})
		if err != nil {
			return nil, err
		}
		buf = append(buf, envelope)
	}
	return buf, nil
}

func deserializeEvents(buf [][]byte) ([]domain.SwapEvent, error) {
	events := make([]domain.SwapEvent, 0, len(buf))
	for _, raw := range buf {
		envelope := eventEnvelope{}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, err
		}
		event, err := decodeEvent(envelope)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func eventTypeName(event domain.SwapEvent) string {
	switch event.(type) {
	case domain.SwapStarted:
		return "SwapStarted"
	case domain.CancellationRequested:
		return "CancellationRequested"
	case domain.LegALocked:
		return "LegALocked"
	case domain.CounterLegAttached:
		return "CounterLegAttached"
	case domain.LegBLocked:
		return "LegBLocked"
	case domain.SecretRevealed:
		return "SecretRevealed"
	case domain.CounterLegClaimed:
		return "CounterLegClaimed"
	case domain.SwapSettled:
		return "SwapSettled"
	case domain.RefundStarted:
		return "RefundStarted"
	case domain.LegRefunded:
		return "LegRefunded"
	case domain.SwapRefunded:
		return "SwapRefunded"
	case domain.SwapFailed:
		return "SwapFailed"
	case domain.SwapPartiallyFailed:
		return "SwapPartiallyFailed"
	default:
		return ""
	}
}

func decodeEvent(envelope eventEnvelope) (domain.SwapEvent, error) {
	switch envelope.Type {
	case "SwapStarted":
		event := domain.SwapStarted{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "CancellationRequested":
		event := domain.CancellationRequested{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "LegALocked":
		event := domain.LegALocked{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "CounterLegAttached":
		event := domain.CounterLegAttached{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "LegBLocked":
		event := domain.LegBLocked{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "SecretRevealed":
		event := domain.SecretRevealed{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "CounterLegClaimed":
		event := domain.CounterLegClaimed{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "SwapSettled":
		event := domain.SwapSettled{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "RefundStarted":
		event := domain.RefundStarted{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "LegRefunded":
		event := domain.LegRefunded{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "SwapRefunded":
		event := domain.SwapRefunded{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "SwapFailed":
		event := domain.SwapFailed{}
		return event, json.Unmarshal(envelope.Payload, &event)
	case "SwapPartiallyFailed":
		event := domain.SwapPartiallyFailed{}
		return event, json.Unmarshal(envelope.Payload, &event)
	default:
		return nil, fmt.Errorf("unknown event type %s", envelope.Type)
	}
}
