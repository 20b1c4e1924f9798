// internal/service/inventory/application/service.go
package application

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockroom/internal/pkg/logger"
	"stockroom/internal/service/inventory/domain"
)

// ReportCache 报表快照缓存的端口，由 Redis 适配器实现。可以为 nil（不缓存）。
type ReportCache interface {
	Get(ctx context.Context) ([]byte, bool)
	Set(ctx context.Context, data []byte)
	Invalidate(ctx context.Context)
}

// Options 预占引擎与报表的运行参数，均来自配置。
type Options struct {
	// MaxRetries 事务冲突时的重试次数（不含首次尝试）
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	LowStockThreshold int
	ReportCacheTTL    time.Duration
}

// InventoryAppService 编排库存领域的全部用例：下单预占、商品管理、报表。
// 预占的并发正确性完全由 Store 的事务保证，本层只负责归一化、
// 有界重试和错误分类。
type InventoryAppService struct {
	store      domain.Store
	producer   domain.EventProducer
	ruleEngine domain.AlertRuleEngine
	cache      ReportCache
	tracer     trace.Tracer
	opts       Options
}

func NewInventoryAppService(store domain.Store, producer domain.EventProducer, ruleEngine domain.AlertRuleEngine, cache ReportCache, tracer trace.Tracer, opts Options) *InventoryAppService {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 20 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &InventoryAppService{
		store: store, producer: producer, ruleEngine: ruleEngine,
		cache: cache, tracer: tracer, opts: opts,
	}
}

// PlaceOrder 是预占引擎的入口：把一组 (商品, 数量) 原子地转化为
// 一张已落账的 completed 订单，或者一个干净的无副作用拒绝。
//
// 每次尝试是一个完整的 Store 事务；事务冲突（ErrTxConflict）在预算内
// 带抖动退避整体重试，其余错误直接分类返回。
func (s *InventoryAppService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()
	start := time.Now()

	if req.CustomerID == "" {
		reservationsTotal.WithLabelValues("invalid").Inc()
		return nil, stderrors.New("customer_id is required")
	}
	items, err := domain.NormalizeReserveItems(req.toReserveItems())
	if err != nil {
		reservationsTotal.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "invalid reservation request")
		return nil, err
	}

	orderID := uuid.New().String()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("order.item_count", len(items)),
	)

	var order *domain.Order
	attempts := 0
	for {
		attempts++
		// 每次尝试用全新的订单实体，避免上一次失败尝试留下部分状态
		order, err = domain.NewOrder(orderID, req.CustomerID, items)
		if err != nil {
			reservationsTotal.WithLabelValues("invalid").Inc()
			return nil, err
		}

		err = s.store.PlaceOrder(ctx, order)
		if err == nil || !stderrors.Is(err, domain.ErrTxConflict) {
			break
		}
		if attempts > s.opts.MaxRetries {
			break
		}

		reservationRetriesTotal.Inc()
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Int("attempt", attempts).
			Msg("Reservation transaction conflict, retrying")
		span.AddEvent("reservation retry")
		if waitErr := s.backoffWait(ctx, attempts); waitErr != nil {
			err = &domain.ContentionError{Attempts: attempts, Err: waitErr}
			break
		}
	}
	reservationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, s.rejectReservation(ctx, span, orderID, attempts, err)
	}

	reservationsTotal.WithLabelValues("success").Inc()
	span.AddEvent("Reservation committed")
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("customer_id", req.CustomerID).
		Int("attempts", attempts).Float64("total", order.Total()).
		Msg("Order placed")

	s.afterCommit(ctx, order)
	return toPlaceOrderResponse(order), nil
}

// rejectReservation 分类失败原因，打点并决定对外暴露的错误形态。
func (s *InventoryAppService) rejectReservation(ctx context.Context, span trace.Span, orderID string, attempts int, err error) error {
	span.RecordError(err)

	var notFound *domain.NotFoundError
	var insufficient *domain.InsufficientStockError
	var persistence *domain.PersistenceError
	switch {
	case stderrors.As(err, &notFound):
		reservationsTotal.WithLabelValues("not_found").Inc()
		span.SetStatus(codes.Error, "unknown product")
		return err
	case stderrors.As(err, &insufficient):
		reservationsTotal.WithLabelValues("insufficient_stock").Inc()
		span.SetStatus(codes.Error, "insufficient stock")
		return err
	case stderrors.Is(err, domain.ErrTxConflict):
		reservationsTotal.WithLabelValues("contention").Inc()
		span.SetStatus(codes.Error, "contention after retries")
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Int("attempts", attempts).
			Msg("Reservation abandoned after retry budget exhausted")
		return &domain.ContentionError{Attempts: attempts, Err: err}
	case stderrors.As(err, &persistence):
		reservationsTotal.WithLabelValues("persistence").Inc()
		span.SetStatus(codes.Error, "persistence failure")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).
			Msg("CRITICAL: persistence failure during reservation, manual reconciliation may be required")
		return err
	default:
		// ContentionError 从退避等待路径直接流到这里，其余未知错误按持久化故障处理
		var contention *domain.ContentionError
		if stderrors.As(err, &contention) {
			reservationsTotal.WithLabelValues("contention").Inc()
			span.SetStatus(codes.Error, "contention")
			return err
		}
		reservationsTotal.WithLabelValues("persistence").Inc()
		span.SetStatus(codes.Error, "storage failure")
		return &domain.PersistenceError{OrderID: orderID, Err: err}
	}
}

// backoffWait 带抖动的指数退避：base*2^(n-1) 封顶后再加 [0, base) 的随机抖动。
func (s *InventoryAppService) backoffWait(ctx context.Context, attempt int) error {
	backoff := s.opts.BackoffBase << (attempt - 1)
	if backoff > s.opts.BackoffMax {
		backoff = s.opts.BackoffMax
	}
	backoff += rand.N(s.opts.BackoffBase)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

// afterCommit 发布提交后的领域事件并使报表缓存失效。
// 事务已经提交，这里的一切都是尽力而为：失败只记日志，不影响返回结果。
func (s *InventoryAppService) afterCommit(ctx context.Context, order *domain.Order) {
	// 调用方的 ctx 可能随响应返回被取消，事件发布用脱离取消链的上下文
	ctx = context.WithoutCancel(ctx)

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.producer == nil {
		return
	}

	now := time.Now()
	event := &domain.OrderCompletedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      order.Items,
		Total:      order.Total(),
		OccurredAt: now,
	}
	if err := s.producer.PublishOrderCompleted(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("Order completed event not published")
	}

	for _, it := range order.Items {
		if !s.isLowStock(ctx, it.ProductName, it.StockAfter, it.UnitPrice) {
			continue
		}
		alert := &domain.StockLowEvent{
			ProductID:  it.ProductID,
			Name:       it.ProductName,
			Stock:      it.StockAfter,
			Threshold:  s.opts.LowStockThreshold,
			OccurredAt: now,
		}
		if err := s.producer.PublishStockLow(ctx, alert); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Uint64("product_id", it.ProductID).Msg("Stock low event not published")
		}
	}
}

func (s *InventoryAppService) isLowStock(ctx context.Context, name string, stock int, price float64) bool {
	if s.ruleEngine == nil {
		return stock < s.opts.LowStockThreshold
	}
	flagged, err := s.ruleEngine.Evaluate(domain.AlertFact{
		Stock: stock, Threshold: s.opts.LowStockThreshold, Price: price, Name: name,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Low-stock rule evaluation failed, falling back to threshold compare")
		return stock < s.opts.LowStockThreshold
	}
	return flagged
}

// AddProduct 新增商品。商品管理没有竞争语义，直接落库。
func (s *InventoryAppService) AddProduct(ctx context.Context, req *AddProductRequest) (*AddProductResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.AddProduct")
	defer span.End()

	product, err := domain.NewProduct(req.Name, req.Description, req.Price, req.StockQuantity)
	if err != nil {
		span.SetStatus(codes.Error, "invalid product")
		return nil, err
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	logger.Ctx(ctx).Info().Uint64("product_id", product.ID).Str("name", product.Name).Msg("Product added")
	return &AddProductResponse{ProductID: product.ID}, nil
}

// Restock 补货。与预占走同一条加锁事务路径。
func (s *InventoryAppService) Restock(ctx context.Context, req *RestockRequest) error {
	ctx, span := s.tracer.Start(ctx, "app.Restock")
	defer span.End()

	if req.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.store.Restock(ctx, req.ProductID, req.Quantity); err != nil {
		span.RecordError(err)
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	logger.Ctx(ctx).Info().Uint64("product_id", req.ProductID).Int("quantity", req.Quantity).Msg("Product restocked")
	return nil
}

// Report 生成一致快照报表。threshold < 0 表示使用配置的默认阈值；
// 只有默认阈值的报表才会命中缓存，自定义阈值每次回源计算。
func (s *InventoryAppService) Report(ctx context.Context, threshold int) (*ReportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.Report")
	defer span.End()

	useDefault := threshold < 0
	if useDefault {
		threshold = s.opts.LowStockThreshold
	}

	if useDefault && s.cache != nil {
		if data, ok := s.cache.Get(ctx); ok {
			var cached ReportResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				span.AddEvent("report served from cache")
				return &cached, nil
			}
		}
	}

	products, orders, err := s.store.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	resp := &ReportResponse{
		Products:  make([]ProductReportDTO, 0, len(products)),
		Orders:    make([]OrderReportDTO, 0, len(orders)),
		LowStock:  []ProductReportDTO{},
		Threshold: threshold,
	}
	for _, p := range products {
		dto := ProductReportDTO{
			ProductID:     p.ID,
			Name:          p.Name,
			StockQuantity: p.StockQuantity,
			Price:         p.Price,
		}
		resp.Products = append(resp.Products, dto)
		if s.isLowStockWithThreshold(ctx, p, threshold) {
			resp.LowStock = append(resp.LowStock, dto)
		}
	}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderReportDTO(&orders[i]))
	}

	if useDefault && s.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			s.cache.Set(ctx, data)
		}
	}
	return resp, nil
}

func (s *InventoryAppService) isLowStockWithThreshold(ctx context.Context, p domain.Product, threshold int) bool {
	if s.ruleEngine == nil {
		return p.StockQuantity < threshold
	}
	flagged, err := s.ruleEngine.Evaluate(domain.AlertFact{
		Stock: p.StockQuantity, Threshold: threshold, Price: p.Price, Name: p.Name,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Low-stock rule evaluation failed, falling back to threshold compare")
		return p.StockQuantity < threshold
	}
	return flagged
}

// Health 健康检查：探测存储可达性。
func (s *InventoryAppService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func toPlaceOrderResponse(order *domain.Order) *PlaceOrderResponse {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemDTO{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return &PlaceOrderResponse{
		OrderID: order.ID,
		Status:  string(order.State),
		Items:   items,
		Total:   order.Total(),
	}
}

func toOrderReportDTO(order *domain.Order) OrderReportDTO {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemDTO{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return OrderReportDTO{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.State),
		OrderDate:  order.CreatedAt,
		Items:      items,
		Total:      order.Total(),
	}
}
