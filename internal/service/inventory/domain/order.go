// internal/service/inventory/domain/order.go
package domain

import (
	"errors"
	"time"
)

// State 订单状态。失败的订单不会落库，只会以错误的形式返回给调用方。
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Order 是订单聚合的根实体。一旦进入 completed 状态即不可变。
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	State      State
	CreatedAt  time.Time
}

// OrderItem 订单行。UnitPrice 在预占事务内从被锁定的商品行上拷贝，
// 之后商品调价不会影响历史订单。
type OrderItem struct {
	ProductID uint64
	Quantity  int
	UnitPrice float64
	// StockAfter 是预占事务内扣减后的库存水位。不落库，
	// 只用于提交后判定是否发布低库存告警，避免二次查询。
	StockAfter int
	// ProductName 同样在事务内捕获，供告警事件使用。
	ProductName string
}

// NewOrder 工厂函数：用归一化后的预占请求创建一个待处理订单。
func NewOrder(id, customerID string, items []ReserveItem) (*Order, error) {
	if id == "" || customerID == "" {
		return nil, errors.New("cannot create order with empty required fields")
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	orderItems := make([]OrderItem, 0, len(items))
	for _, it := range items {
		orderItems = append(orderItems, OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	return &Order{
		ID:         id,
		CustomerID: customerID,
		Items:      orderItems,
		State:      StatePending,
		CreatedAt:  time.Now(),
	}, nil
}

// MarkCompleted 只有 pending 订单可以完成，由 Store 在预占事务提交前调用。
func (o *Order) MarkCompleted() error {
	if o.State != StatePending {
		return errors.New("only pending orders can be completed")
	}
	o.State = StateCompleted
	return nil
}

// MarkFailed 标记订单失败。失败订单不进入台账。
func (o *Order) MarkFailed() {
	o.State = StateFailed
}

// Total 返回订单总金额，只在行项目的单价已被填充后有意义。
func (o *Order) Total() float64 {
	var total float64
	for _, it := range o.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}
