// internal/service/inventory/domain/events.go
package domain

import (
	"context"
	"time"
)

// OrderCompletedEvent 在预占事务提交后发布，供下游（通知、分析）消费。
type OrderCompletedEvent struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	Total      float64     `json:"total"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// StockLowEvent 某商品库存跌破阈值时发布，stock-watch-gateway 会推送给订阅者。
type StockLowEvent struct {
	ProductID  uint64    `json:"product_id"`
	Name       string    `json:"name"`
	Stock      int       `json:"stock"`
	Threshold  int       `json:"threshold"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventProducer 领域事件的出站端口，由 Kafka 适配器实现。
// 事件发布是尽力而为的：失败只记日志，不影响已提交订单的结果。
type EventProducer interface {
	PublishOrderCompleted(ctx context.Context, event *OrderCompletedEvent) error
	PublishStockLow(ctx context.Context, event *StockLowEvent) error
}
