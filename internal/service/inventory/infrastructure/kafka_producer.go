// internal/service/inventory/infrastructure/kafka_producer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"stockroom/internal/pkg/logger"
	"stockroom/internal/pkg/mq"
	"stockroom/internal/service/inventory/domain"
)

// EventProducerAdapter 是 domain.EventProducer 的 Kafka 实现。
// 订单事件按客户分区，库存告警按商品分区，保证同一实体的事件有序。
type EventProducerAdapter struct {
	orderWriter *kafka.Writer
	alertWriter *kafka.Writer
}

func NewEventProducerAdapter(orderWriter, alertWriter *kafka.Writer) *EventProducerAdapter {
	return &EventProducerAdapter{orderWriter: orderWriter, alertWriter: alertWriter}
}

func (p *EventProducerAdapter) PublishOrderCompleted(ctx context.Context, event *domain.OrderCompletedEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to marshal order completed event")
		return err
	}
	if err := mq.ProduceMessage(ctx, p.orderWriter, []byte(event.CustomerID), eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", event.OrderID).
			Msg("Failed to produce order completed event")
		return err
	}
	return nil
}

func (p *EventProducerAdapter) PublishStockLow(ctx context.Context, event *domain.StockLowEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to marshal stock low event")
		return err
	}
	key := []byte(strconv.FormatUint(event.ProductID, 10))
	if err := mq.ProduceMessage(ctx, p.alertWriter, key, eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint64("product_id", event.ProductID).
			Msg("Failed to produce stock low event")
		return err
	}
	return nil
}
