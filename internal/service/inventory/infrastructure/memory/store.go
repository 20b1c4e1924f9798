// internal/service/inventory/infrastructure/memory/store.go
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"stockroom/internal/service/inventory/domain"
)

type productRecord struct {
	mu      sync.Mutex
	product domain.Product
}

// Store 是 domain.Store 的内存实现，服务于测试和无 MySQL 的本地开发。
//
// 它不是用一把全局锁模拟出来的：每个商品有独立的互斥锁，事务按商品 ID
// 升序逐个加锁，与 MySQL 实现的行锁协议一一对应。这样针对它编写的
// 并发测试（超卖、死锁自由）检验的是与生产路径相同的加锁顺序约定。
type Store struct {
	mu       sync.RWMutex // 只保护 products 映射结构，不仲裁库存
	products map[uint64]*productRecord
	nextID   uint64

	ledgerMu sync.Mutex
	orders   []domain.Order
}

func NewStore() *Store {
	return &Store{products: make(map[uint64]*productRecord)}
}

// canceled 与 GormStore.translate 的取消分支对齐：调用方取消时事务整体回滚，
// 走与并发冲突相同的重试/拒绝路径，而不是被当成致命的持久化故障。
func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(domain.ErrTxConflict, err.Error())
	}
	return nil
}

// PlaceOrder 实现与 GormStore 相同的事务语义：
// 升序加锁 -> 全量校验 -> 全量扣减 -> 落账，任何失败都不留下部分效果。
func (s *Store) PlaceOrder(ctx context.Context, order *domain.Order) error {
	if err := canceled(ctx); err != nil {
		return err
	}

	// 解析所有商品记录；缺失的商品在加任何锁之前整体拒绝
	records := make([]*productRecord, 0, len(order.Items))
	var missing []uint64
	s.mu.RLock()
	for _, it := range order.Items {
		rec, ok := s.products[it.ProductID]
		if !ok {
			missing = append(missing, it.ProductID)
			continue
		}
		records = append(records, rec)
	}
	s.mu.RUnlock()
	if len(missing) > 0 {
		return &domain.NotFoundError{ProductIDs: missing}
	}

	// order.Items 已按商品 ID 升序排列，这里的加锁顺序因此是全局一致的
	for _, rec := range records {
		rec.mu.Lock()
	}
	defer func() {
		for i := len(records) - 1; i >= 0; i-- {
			records[i].mu.Unlock()
		}
	}()

	var shortages []domain.Shortage
	for i, it := range order.Items {
		if records[i].product.StockQuantity < it.Quantity {
			shortages = append(shortages, domain.Shortage{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: records[i].product.StockQuantity,
			})
		}
	}
	if len(shortages) > 0 {
		return &domain.InsufficientStockError{Shortages: shortages}
	}

	for i := range order.Items {
		it := &order.Items[i]
		records[i].product.StockQuantity -= it.Quantity
		it.UnitPrice = records[i].product.Price
		it.ProductName = records[i].product.Name
		it.StockAfter = records[i].product.StockQuantity
	}

	if err := order.MarkCompleted(); err != nil {
		return err
	}

	s.ledgerMu.Lock()
	ledgerCopy := *order
	ledgerCopy.Items = append([]domain.OrderItem(nil), order.Items...)
	s.orders = append(s.orders, ledgerCopy)
	s.ledgerMu.Unlock()
	return nil
}

// CreateProduct 分配自增 ID 并登记商品。
func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.products[p.ID] = &productRecord{product: *p}
	return nil
}

// Restock 与预占共用同一把商品锁。
func (s *Store) Restock(ctx context.Context, productID uint64, delta int) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	rec, ok := s.products[productID]
	s.mu.RUnlock()
	if !ok {
		return &domain.NotFoundError{ProductIDs: []uint64{productID}}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.product.StockQuantity += delta
	return nil
}

// Snapshot 按升序锁住全部商品后拷贝，保证各商品的读数来自同一时刻。
func (s *Store) Snapshot(ctx context.Context) ([]domain.Product, []domain.Order, error) {
	if err := canceled(ctx); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	ids := make([]uint64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	recs := make(map[uint64]*productRecord, len(s.products))
	for id, rec := range s.products {
		recs[id] = rec
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		recs[id].mu.Lock()
	}
	products := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		products = append(products, recs[id].product)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		recs[ids[i]].mu.Unlock()
	}

	s.ledgerMu.Lock()
	orders := make([]domain.Order, len(s.orders))
	copy(orders, s.orders)
	s.ledgerMu.Unlock()

	return products, orders, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
