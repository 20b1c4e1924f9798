// internal/service/inventory/infrastructure/gorm_model.go
package infrastructure

import "time"

// ProductModel 对应数据库中的 Products 表。
// stock_quantity 上的 CHECK 约束是最后一道防线，正常路径下
// 预占事务在加锁读之后就会拒绝超卖，不会触发它。
type ProductModel struct {
	ProductID     uint64  `gorm:"column:product_id;primaryKey;autoIncrement"`
	Name          string  `gorm:"column:name;size:100;not null"`
	Description   string  `gorm:"column:description;type:text"`
	Price         float64 `gorm:"column:price;type:decimal(10,2);not null"`
	StockQuantity int     `gorm:"column:stock_quantity;not null;check:stock_quantity >= 0"`
}

// TableName 指定 GORM 应该使用的表名
func (ProductModel) TableName() string {
	return "Products"
}

// OrderModel 对应数据库中的 Orders 表。只有 completed 订单会被写入。
type OrderModel struct {
	OrderID    string           `gorm:"column:order_id;primaryKey;size:36"`
	CustomerID string           `gorm:"column:customer_id;size:64;not null;index"`
	OrderDate  time.Time        `gorm:"column:order_date;not null"`
	Status     string           `gorm:"column:status;size:50;not null"`
	Items      []OrderItemModel `gorm:"foreignKey:OrderID;references:OrderID"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "Orders"
}

// OrderItemModel 对应数据库中的 Order_Items 表。
// price 是下单时刻从被锁定商品行拷贝的单价。
type OrderItemModel struct {
	OrderItemID uint64  `gorm:"column:order_item_id;primaryKey;autoIncrement"`
	OrderID     string  `gorm:"column:order_id;size:36;index"`
	ProductID   uint64  `gorm:"column:product_id;not null"`
	Quantity    int     `gorm:"column:quantity;not null"`
	Price       float64 `gorm:"column:price;type:decimal(10,2);not null"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderItemModel) TableName() string {
	return "Order_Items"
}
