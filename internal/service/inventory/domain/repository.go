// internal/service/inventory/domain/repository.go
package domain

import "context"

// Store 定义了库存存储的持久化接口。它位于领域层，由基础设施层实现
// （生产环境是 MySQL，测试和本地开发是内存实现）。
//
// 并发约定：商品库存的唯一仲裁者是 Store 自己的事务/锁原语。
// 实现必须保证 PlaceOrder 对整个订单是原子的，并且在读取库存时
// 阻止其他并发预占读到同一个扣减前的值（行级排他锁或等价机制）。
type Store interface {
	// PlaceOrder 在一个事务里完成整张订单的预占与落账：
	// 按 order.Items 的顺序（调用方已按商品 ID 升序归一化）逐行加锁、
	// 校验可用量、扣减库存、回填捕获单价，最后把 completed 订单写入台账。
	// 任何一步失败整个事务回滚。可能返回:
	//   *NotFoundError / *InsufficientStockError — 业务拒绝，无副作用；
	//   ErrTxConflict — 并发冲突，可整体重试；
	//   其他错误 — 基础设施故障。
	PlaceOrder(ctx context.Context, order *Order) error

	// CreateProduct 新增商品记录。
	CreateProduct(ctx context.Context, p *Product) error

	// Restock 走与预占相同的加锁路径为商品补货，delta 必须为正。
	Restock(ctx context.Context, productID uint64, delta int) error

	// Snapshot 在单个读事务内返回全部商品与已完成订单的一致快照，
	// 不同商品之间不会出现撕裂读。
	Snapshot(ctx context.Context) ([]Product, []Order, error)

	// Ping 健康检查探测。
	Ping(ctx context.Context) error
}
