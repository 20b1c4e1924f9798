// internal/service/inventory/infrastructure/mapper.go
package infrastructure

import "stockroom/internal/service/inventory/domain"

// ToDomainProduct 数据库模型 -> 领域模型
func ToDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ID:            m.ProductID,
		Name:          m.Name,
		Description:   m.Description,
		Price:         m.Price,
		StockQuantity: m.StockQuantity,
	}
}

// ToProductModel 领域模型 -> 数据库模型
func ToProductModel(p *domain.Product) *ProductModel {
	return &ProductModel{
		ProductID:     p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
	}
}

// ToOrderModel 领域订单 -> 数据库模型（含订单行）
func ToOrderModel(o *domain.Order) *OrderModel {
	items := make([]OrderItemModel, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemModel{
			OrderID:   o.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.UnitPrice,
		})
	}
	return &OrderModel{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		OrderDate:  o.CreatedAt,
		Status:     string(o.State),
		Items:      items,
	}
}

// ToDomainOrder 数据库模型 -> 领域订单
func ToDomainOrder(m *OrderModel) *domain.Order {
	items := make([]domain.OrderItem, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, domain.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}
	return &domain.Order{
		ID:         m.OrderID,
		CustomerID: m.CustomerID,
		Items:      items,
		State:      domain.State(m.Status),
		CreatedAt:  m.OrderDate,
	}
}
