package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	ctx     context.Context
	wsHub   WSHub
	streams *Streams
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

// New creates a bus over rdb. A nil rdb gives a process-local bus that only
// feeds the WebSocket hub, with no replay.
func New(rdb *redis.Client, log *zap.Logger) *Bus {
	b := &Bus{
		rdb: rdb,
		log: log,
		ctx: context.Background(),
	}
	if rdb != nil {
		b.streams = NewStreams(rdb, log)
	}
	return b
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// GetStreams returns the streams provider
func (b *Bus) GetStreams() *Streams {
	return b.streams
}

func WorkspaceChannel(id string) string { return "workspace:" + id }
func FormChannel(id string) string      { return "form:" + id }
func SessionChannel(id string) string   { return "session:" + id }

// PublishWorkspace publishes an event to a workspace's channel
func (b *Bus) PublishWorkspace(workspaceID string, event map[string]interface{}) error {
	return b.Publish(WorkspaceChannel(workspaceID), event)
}

// PublishForm publishes an event to a form's channel
func (b *Bus) PublishForm(formID string, event map[string]interface{}) error {
	return b.Publish(FormChannel(formID), event)
}

// PublishSession publishes an event to a respondent session's channel
func (b *Bus) PublishSession(sessionID string, event map[string]interface{}) error {
	return b.Publish(SessionChannel(sessionID), event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var seq int64
	if b.rdb != nil {
		if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
			b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
			return err
		}

		// Also publish to Redis Streams for replay
		seq, err = b.streams.PublishEvent(channel, event)
		if err != nil {
			b.log.Warn("Failed to publish to stream", zap.String("channel", channel), zap.Error(err))
		}
	}

	eventWithSeq := make(map[string]interface{}, len(event)+1)
	for k, v := range event {
		eventWithSeq[k] = v
	}
	eventWithSeq["seq"] = seq

	if b.wsHub != nil {
		b.wsHub.Publish(channel, eventWithSeq)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.Int64("seq", seq), zap.String("event", string(data)))
	return nil
}
