package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/events"
)

// Publisher re-broadcasts inventory changes to interested carts. The session
// registry implements it by fanning out to every live session bus.
type Publisher interface {
	Publish(events.Event)
}

// stockMessage is the wire shape other services publish when an item's
// counts move.
type stockMessage struct {
	ItemID   int64 `json:"item_id"`
	Quantity int32 `json:"quantity"`
	Reserved int32 `json:"reserved_quantity"`
}

// InventoryConsumer reads inventory change messages off Kafka and
// re-broadcasts them as InventoryUpdated events, so a displayed cart can
// re-validate proactively when another shopper exhausts stock.
type InventoryConsumer struct {
	reader     *kafka.Reader
	publisher  Publisher
	lowStockAt int32
	log        zerolog.Logger
}

func NewInventoryConsumer(pub Publisher, lowStockAt int32, log zerolog.Logger, brokers ...string) *InventoryConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "inventory-events",
		GroupID:  "cartcore-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &InventoryConsumer{
		reader:     reader,
		publisher:  pub,
		lowStockAt: lowStockAt,
		log:        log,
	}
}

func (c *InventoryConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("error reading inventory message")
			}
			continue
		}
		if err := c.handleMessage(m.Value); err != nil {
			c.log.Warn().Err(err).Msg("error handling inventory message")
		}
	}
}

func (c *InventoryConsumer) handleMessage(value []byte) error {
	var msg stockMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("parse inventory message: %w", err)
	}

	rec := domain.InventoryRecord{ItemID: msg.ItemID, OnHand: msg.Quantity, Reserved: msg.Reserved}
	c.publisher.Publish(events.InventoryUpdated{Change: domain.StockChange{
		ItemID:   rec.ItemID,
		OnHand:   rec.OnHand,
		Reserved: rec.Reserved,
		Status:   rec.Status(c.lowStockAt),
	}})
	return nil
}

func (c *InventoryConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn().Err(err).Msg("error closing inventory reader")
	}
}
