package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// IndexedChannel carries announcements for every record the indexer writes.
const IndexedChannel = "ldx:indexed"

// SignalService fans indexed-record events out through redis pub/sub so
// websocket sessions on any node see them.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, channel string, event ledgerdex.Event) error {
	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.rdb.Publish(ctx, channel, jsonstr).Err()
}

// AnnounceIndexed implements the indexer's announcer port.
func (s *SignalService) AnnounceIndexed(ctx context.Context, rec domain.Record) {
	err := s.Publish(ctx, IndexedChannel, ledgerdex.Event{
		Channel:    IndexedChannel,
		Action:     "indexed",
		DID:        rec.DID,
		RecordType: rec.RecordType,
		Status:     rec.Status,
	})
	if err != nil {
		slog.Warn("failed to announce indexed record", "did", rec.DID, "error", err)
	}
}

// Realtime subscribes to the indexed channel and forwards events whose
// record type matches the session's filter. An empty filter forwards
// everything. The filter channel updates the subscription live.
func (s *SignalService) Realtime(ctx context.Context, filters <-chan []string, output chan<- ledgerdex.Event) {
	pubsub := s.rdb.Subscribe(ctx, IndexedChannel)
	defer pubsub.Close()

	var wanted map[string]bool

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case types, ok := <-filters:
			if !ok {
				return
			}
			if len(types) == 0 {
				wanted = nil
				continue
			}
			wanted = make(map[string]bool, len(types))
			for _, t := range types {
				wanted[t] = true
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event ledgerdex.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("malformed signal payload", "error", err)
				continue
			}
			if wanted != nil && !wanted[event.RecordType] {
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
