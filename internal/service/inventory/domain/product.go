// internal/service/inventory/domain/product.go
package domain

import "errors"

// Product 是库存商品实体。StockQuantity 只允许通过预占事务或补货事务修改，
// 任何读-改-写都必须发生在 Store 的同一个事务里。
type Product struct {
	ID          uint64
	Name        string
	Description string
	Price       float64
	StockQuantity int
}

// NewProduct 工厂函数，创建前校验基本约束。
func NewProduct(name, description string, price float64, stock int) (*Product, error) {
	if name == "" {
		return nil, errors.New("product name is required")
	}
	if price < 0 {
		return nil, errors.New("product price cannot be negative")
	}
	if stock < 0 {
		return nil, errors.New("product stock cannot be negative")
	}
	return &Product{
		Name:          name,
		Description:   description,
		Price:         price,
		StockQuantity: stock,
	}, nil
}
