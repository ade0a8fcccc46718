package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes engine events to Kafka. Publishing is best-effort:
// a broker failure is logged and never fails the ledger operation that
// produced the event. Pass nil wherever events are not needed.
type Publisher struct {
	writers map[string]*kafka.Writer
}

// NewPublisher creates writers for all engine topics against the given
// broker list ("a:9092,b:9092").
func NewPublisher(brokers string) *Publisher {
	topics := []string{TopicStakePlaced, TopicStakeWithdrawn, TopicGameCancelled, TopicWaveExecuted}
	writers := make(map[string]*kafka.Writer, len(topics))
	for _, t := range topics {
		writers[t] = &kafka.Writer{
			Addr:                   kafka.TCP(brokers),
			Topic:                  t,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	return &Publisher{writers: writers}
}

// Close closes all topic writers.
func (p *Publisher) Close() {
	for _, w := range p.writers {
		_ = w.Close()
	}
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}
	if err := p.writers[topic].WriteMessages(ctx, msg); err != nil {
		slog.Error("event publish failed", "topic", topic, "err", err)
	}
}

// StakePlaced publishes to the stake_placed topic, keyed by game id so one
// game's stakes stay ordered.
func (p *Publisher) StakePlaced(ctx context.Context, e StakePlaced) {
	e.TsUnixMs = time.Now().UnixMilli()
	p.publish(ctx, TopicStakePlaced, e.GameID, e)
}

// StakeWithdrawn publishes to the stake_withdrawn topic.
func (p *Publisher) StakeWithdrawn(ctx context.Context, e StakeWithdrawn) {
	e.TsUnixMs = time.Now().UnixMilli()
	p.publish(ctx, TopicStakeWithdrawn, e.GameID, e)
}

// GameCancelled publishes to the game_cancelled topic.
func (p *Publisher) GameCancelled(ctx context.Context, e GameCancelled) {
	e.TsUnixMs = time.Now().UnixMilli()
	p.publish(ctx, TopicGameCancelled, e.GameID, e)
}

// WaveExecuted publishes to the wave_executed topic.
func (p *Publisher) WaveExecuted(ctx context.Context, e WaveExecuted) {
	e.TsUnixMs = time.Now().UnixMilli()
	p.publish(ctx, TopicWaveExecuted, e.WaveID, e)
}
