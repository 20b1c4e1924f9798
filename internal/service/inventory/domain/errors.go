// internal/service/inventory/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 调用方参数错误，预占开始前即被拒绝，不产生任何副作用。
var (
	ErrEmptyOrder      = errors.New("order must contain at least one item")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
)

// ErrTxConflict 由 Store 实现返回，表示事务因为并发冲突被底层存储回滚
// （MySQL 死锁、锁等待超时等）。预占引擎识别到它会整体重试。
var ErrTxConflict = errors.New("transaction conflict detected by store")

// NotFoundError 订单引用了不存在的商品。事务已整体回滚，无部分副作用。
type NotFoundError struct {
	ProductIDs []uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown product(s): %s", joinIDs(e.ProductIDs))
}

// Shortage 描述一个库存不足的商品。
type Shortage struct {
	ProductID uint64
	Requested int
	Available int
}

// InsufficientStockError 业务规则拒绝：至少一个商品的可用库存低于请求量。
// 引擎不重试，调用方可以调整数量后重新提交。
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("product %d (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock for " + strings.Join(parts, ", ")
}

// ContentionError 重试预算耗尽后对外暴露的瞬时冲突错误，调用方可以重新提交。
type ContentionError struct {
	Attempts int
	Err      error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("reservation aborted after %d attempts due to contention: %v", e.Attempts, e.Err)
}

func (e *ContentionError) Unwrap() error { return e.Err }

// PersistenceError 存储基础设施故障。对当前订单是致命的：
// 绝不自动重试，避免重复扣减库存，需要人工对账处理。
type PersistenceError struct {
	OrderID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure for order %s: %v", e.OrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func joinIDs(ids []uint64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ", ")
}
