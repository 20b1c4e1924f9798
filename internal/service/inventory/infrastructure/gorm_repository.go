// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	stderrors "errors"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockroom/internal/service/inventory/domain"
)

// MySQL/InnoDB 的可重试冲突错误码。
const (
	mysqlErrLockDeadlock    = 1213 // ER_LOCK_DEADLOCK
	mysqlErrLockWaitTimeout = 1205 // ER_LOCK_WAIT_TIMEOUT
)

// GormStore 是 domain.Store 的 MySQL 实现。
// 加锁读（SELECT ... FOR UPDATE）+ InnoDB 行锁是库存扣减的唯一仲裁者，
// 应用侧不持有任何跨请求的锁。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个新的 GORM 仓储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// PlaceOrder 在单个事务内完成整张订单的预占与落账。
// order.Items 已由领域层按商品 ID 升序归一化，因此所有并发事务
// 的加锁顺序一致，不会发生循环等待。
func (s *GormStore) PlaceOrder(ctx context.Context, order *domain.Order) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var missing []uint64
		var shortages []domain.Shortage
		locked := make(map[uint64]*ProductModel, len(order.Items))

		// 第一遍：按升序逐行加排他锁并校验。先收集所有问题再返回，
		// 让调用方一次拿到全部缺失/不足的商品，而不是挤牙膏。
		for _, it := range order.Items {
			var pm ProductModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("product_id = ?", it.ProductID).
				First(&pm).Error
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				missing = append(missing, it.ProductID)
				continue
			}
			if err != nil {
				return err
			}
			locked[pm.ProductID] = &pm
			if pm.StockQuantity < it.Quantity {
				shortages = append(shortages, domain.Shortage{
					ProductID: pm.ProductID,
					Requested: it.Quantity,
					Available: pm.StockQuantity,
				})
			}
		}
		if len(missing) > 0 {
			return &domain.NotFoundError{ProductIDs: missing}
		}
		if len(shortages) > 0 {
			return &domain.InsufficientStockError{Shortages: shortages}
		}

		// 第二遍：全部校验通过后才扣减，并回填捕获单价。
		for i := range order.Items {
			it := &order.Items[i]
			if err := tx.Model(&ProductModel{}).
				Where("product_id = ?", it.ProductID).
				UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", it.Quantity)).Error; err != nil {
				return err
			}
			pm := locked[it.ProductID]
			it.UnitPrice = pm.Price
			it.ProductName = pm.Name
			it.StockAfter = pm.StockQuantity - it.Quantity
		}

		// 台账写入是同一事务的最后一步：扣减与订单记录要么同时生效，
		// 要么同时回滚。
		if err := order.MarkCompleted(); err != nil {
			return err
		}
		return tx.Create(ToOrderModel(order)).Error
	})

	return s.translate(order, err)
}

// CreateProduct 新增商品，回填数据库生成的主键。
func (s *GormStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	model := ToProductModel(p)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return &domain.PersistenceError{Err: errors.Wrap(err, "create product")}
	}
	p.ID = model.ProductID
	return nil
}

// Restock 走与预占相同的加锁路径为商品补货。
func (s *GormStore) Restock(ctx context.Context, productID uint64, delta int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pm ProductModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("product_id = ?", productID).
			First(&pm).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.NotFoundError{ProductIDs: []uint64{productID}}
		}
		if err != nil {
			return err
		}
		return tx.Model(&ProductModel{}).
			Where("product_id = ?", productID).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", delta)).Error
	})
	return s.translate(nil, err)
}

// Snapshot 在单个只读事务内返回商品与已完成订单的一致视图。
func (s *GormStore) Snapshot(ctx context.Context) ([]domain.Product, []domain.Order, error) {
	var products []domain.Product
	var orders []domain.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var productModels []ProductModel
		if err := tx.Order("product_id asc").Find(&productModels).Error; err != nil {
			return err
		}
		var orderModels []OrderModel
		if err := tx.Preload("Items").
			Where("status = ?", string(domain.StateCompleted)).
			Order("order_date asc").
			Find(&orderModels).Error; err != nil {
			return err
		}

		products = make([]domain.Product, 0, len(productModels))
		for i := range productModels {
			products = append(products, *ToDomainProduct(&productModels[i]))
		}
		orders = make([]domain.Order, 0, len(orderModels))
		for i := range orderModels {
			orders = append(orders, *ToDomainOrder(&orderModels[i]))
		}
		return nil
	})
	if err != nil {
		return nil, nil, s.translate(nil, err)
	}
	return products, orders, nil
}

// Ping 健康检查。
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// translate 把底层错误翻译为领域错误分类：
//   - 领域错误原样透传；
//   - InnoDB 死锁 / 锁等待超时 / 上下文取消 → ErrTxConflict（可整体重试）；
//   - 其余 → PersistenceError（致命，不重试）。
func (s *GormStore) translate(order *domain.Order, err error) error {
	if err == nil {
		return nil
	}

	var notFound *domain.NotFoundError
	var insufficient *domain.InsufficientStockError
	if stderrors.As(err, &notFound) || stderrors.As(err, &insufficient) {
		return err
	}

	var mysqlErr *mysqldriver.MySQLError
	if stderrors.As(err, &mysqlErr) &&
		(mysqlErr.Number == mysqlErrLockDeadlock || mysqlErr.Number == mysqlErrLockWaitTimeout) {
		return errors.Wrap(domain.ErrTxConflict, mysqlErr.Error())
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		// 锁等待被取消：事务已整体回滚，和冲突走同一条重试/拒绝路径
		return errors.Wrap(domain.ErrTxConflict, err.Error())
	}

	orderID := ""
	if order != nil {
		orderID = order.ID
	}
	return &domain.PersistenceError{OrderID: orderID, Err: err}
}
