// Package eventbus optionally publishes checkpoint, finality and reorg
// notifications to NATS JetStream so other services can react to indexing
// progress without polling the status store.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Kind distinguishes the three notifications the sync coordinator and reorg
// controller emit.
type Kind string

const (
	// KindCheckpoint reports the sync coordinator's safe-to-process frontier
	// advancing for a chain.
	KindCheckpoint Kind = "checkpoint"
	// KindFinality reports a chain's irreversible checkpoint advancing.
	KindFinality Kind = "finality"
	// KindReorg reports the reorg controller rewinding a chain to a common
	// ancestor.
	KindReorg Kind = "reorg"
)

// Event is the payload published for every notification kind. Checkpoint is
// always populated; ChainID duplicates Checkpoint.ChainID so subscribers
// that only care about routing don't need to decode the checkpoint first.
type Event struct {
	Kind       Kind                  `json:"kind"`
	ChainID    uint64                `json:"chain_id"`
	Checkpoint checkpoint.Checkpoint `json:"checkpoint"`
	ObservedAt time.Time             `json:"observed_at"`
}

// dedupWindow bounds how long JetStream remembers a message ID for
// deduplication. A checkpoint/finality notification republished for the same
// chain and position within this window is dropped by the server rather than
// delivered twice.
const dedupWindow = 2 * time.Minute

// streamMaxAge bounds how long published notifications are retained; these
// are progress signals for live subscribers, not an audit log.
const streamMaxAge = 24 * time.Hour

// Publisher publishes indexing progress notifications to a JetStream stream.
// A nil *Publisher is valid and every method on it is a no-op, so callers
// don't need to branch on whether the event bus is enabled.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	log    *logger.Logger
	prefix string
}

// New connects to the given NATS URL and ensures the notification stream
// exists. subjectPrefix namespaces every subject this publisher writes to,
// e.g. "evmindex" yields subjects like "evmindex.checkpoint.1".
func New(ctx context.Context, url, subjectPrefix string, log *logger.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("eventbus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("eventbus: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: jetstream context: %w", err)
	}

	streamName := streamNameFor(subjectPrefix)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		MaxAge:     streamMaxAge,
		Storage:    jetstream.FileStorage,
		Duplicates: dedupWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: create stream %s: %w", streamName, err)
	}

	return &Publisher{js: js, nc: nc, log: log, prefix: subjectPrefix}, nil
}

func streamNameFor(subjectPrefix string) string {
	return subjectPrefix + "_events"
}

// subject returns the subject an event of the given kind and chain publishes
// to: "{prefix}.{kind}.{chainID}".
func (p *Publisher) subject(kind Kind, chainID uint64) string {
	return fmt.Sprintf("%s.%s.%d", p.prefix, kind, chainID)
}

// msgID builds the deduplication key JetStream uses to drop a republish of
// the same notification within dedupWindow: a given chain reporting the same
// kind at the same checkpoint is the same event.
func msgID(kind Kind, cp checkpoint.Checkpoint) string {
	return fmt.Sprintf("%s-%s", kind, cp.Encode())
}

// Publish sends one notification. It blocks until the server acknowledges
// the publish or ctx is cancelled.
func (p *Publisher) Publish(ctx context.Context, kind Kind, cp checkpoint.Checkpoint) error {
	if p == nil {
		return nil
	}

	event := Event{
		Kind:       kind,
		ChainID:    cp.ChainID,
		Checkpoint: cp,
		ObservedAt: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal %s event: %w", kind, err)
	}

	_, err = p.js.Publish(ctx, p.subject(kind, cp.ChainID), data,
		jetstream.WithMsgID(msgID(kind, cp)))
	if err != nil {
		return fmt.Errorf("eventbus: publish %s event for chain %d: %w", kind, cp.ChainID, err)
	}
	return nil
}

// PublishCheckpoint is a convenience wrapper for the sync coordinator's safe
// frontier advancing.
func (p *Publisher) PublishCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	return p.Publish(ctx, KindCheckpoint, cp)
}

// PublishFinality is a convenience wrapper for a chain's finality checkpoint
// advancing.
func (p *Publisher) PublishFinality(ctx context.Context, cp checkpoint.Checkpoint) error {
	return p.Publish(ctx, KindFinality, cp)
}

// PublishReorg is a convenience wrapper for the reorg controller rewinding a
// chain to a common ancestor.
func (p *Publisher) PublishReorg(ctx context.Context, cp checkpoint.Checkpoint) error {
	return p.Publish(ctx, KindReorg, cp)
}

// Healthy reports whether the underlying NATS connection is currently up.
func (p *Publisher) Healthy() bool {
	if p == nil {
		return true
	}
	return p.nc.IsConnected()
}

// Close closes the underlying NATS connection without draining it first.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.nc.Close()
}
