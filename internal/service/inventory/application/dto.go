// internal/service/inventory/application/dto.go
package application

import (
	"time"

	"stockroom/internal/service/inventory/domain"
)

// PlaceOrderRequest 下单请求。Items 允许出现重复商品，引擎会合并。
type PlaceOrderRequest struct {
	CustomerID string           `json:"customer_id"`
	Items      []ReserveItemDTO `json:"items"`
}

type ReserveItemDTO struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (r *PlaceOrderRequest) toReserveItems() []domain.ReserveItem {
	items := make([]domain.ReserveItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, domain.ReserveItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return items
}

// PlaceOrderResponse 下单成功的结果：订单号、逐项明细与总额。
type PlaceOrderResponse struct {
	OrderID string         `json:"order_id"`
	Status  string         `json:"status"`
	Items   []OrderItemDTO `json:"items"`
	Total   float64        `json:"total"`
}

type OrderItemDTO struct {
	ProductID uint64  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type AddProductRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	StockQuantity int     `json:"stock_quantity"`
}

type AddProductResponse struct {
	ProductID uint64 `json:"product_id"`
}

type RestockRequest struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ProductReportDTO 报表中的单个商品条目。
type ProductReportDTO struct {
	ProductID     uint64  `json:"product_id"`
	Name          string  `json:"name"`
	StockQuantity int     `json:"stock_quantity"`
	Price         float64 `json:"price"`
}

type OrderReportDTO struct {
	OrderID    string         `json:"order_id"`
	CustomerID string         `json:"customer_id"`
	Status     string         `json:"status"`
	OrderDate  time.Time      `json:"order_date"`
	Items      []OrderItemDTO `json:"items"`
	Total      float64        `json:"total"`
}

// ReportResponse 一致快照报表：全部商品、已完成订单、低库存子集。
type ReportResponse struct {
	Products  []ProductReportDTO `json:"products"`
	Orders    []OrderReportDTO   `json:"orders"`
	LowStock  []ProductReportDTO `json:"low_stock"`
	Threshold int                `json:"threshold"`
}
