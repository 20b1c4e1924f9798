// internal/service/inventory/domain/reservation.go
package domain

import "sort"

// ReserveItem 一条预占请求：对某个商品预占指定数量的库存。
type ReserveItem struct {
	ProductID uint64
	Quantity  int
}

// NormalizeReserveItems 把调用方传入的行项目归一化为预占事务可以安全使用的形式：
//
//  1. 合并重复的商品条目（数量累加），每个商品行在事务里只加锁一次；
//  2. 按商品 ID 升序排序，保证所有事务以相同顺序加锁。
//
// 固定的加锁顺序让两个商品集合重叠的并发订单不可能形成循环等待，
// 这是整个预占子系统免死锁的前提，任何调用路径都不得绕过这一步。
func NormalizeReserveItems(items []ReserveItem) ([]ReserveItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	merged := make(map[uint64]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		merged[it.ProductID] += it.Quantity
	}

	normalized := make([]ReserveItem, 0, len(merged))
	for id, qty := range merged {
		normalized = append(normalized, ReserveItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].ProductID < normalized[j].ProductID
	})
	return normalized, nil
}
