package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"stockroom/internal/service/inventory/domain"
	"stockroom/internal/service/inventory/infrastructure/memory"
)

// fastOpts 让重试退避在测试里几乎不耗时
func fastOpts() Options {
	return Options{
		MaxRetries:        3,
		BackoffBase:       time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		LowStockThreshold: 5,
	}
}

func newService(t *testing.T, store domain.Store, producer domain.EventProducer, cache ReportCache, opts Options) *InventoryAppService {
	t.Helper()
	return NewInventoryAppService(store, producer, nil, cache, otel.Tracer("test"), opts)
}

func seedProduct(t *testing.T, svc *InventoryAppService, name string, price float64, stock int) uint64 {
	t.Helper()
	resp, err := svc.AddProduct(context.Background(), &AddProductRequest{
		Name: name, Price: price, StockQuantity: stock,
	})
	require.NoError(t, err)
	return resp.ProductID
}

// flakyStore 包装真实 Store，前 failures 次 PlaceOrder 返回事务冲突。
type flakyStore struct {
	domain.Store
	failures int32
	calls    int32
}

func (f *flakyStore) PlaceOrder(ctx context.Context, order *domain.Order) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failures) {
		return domain.ErrTxConflict
	}
	return f.Store.PlaceOrder(ctx, order)
}

// brokenStore 的 PlaceOrder 永远返回指定错误。
type brokenStore struct {
	domain.Store
	err   error
	calls int32
}

func (b *brokenStore) PlaceOrder(ctx context.Context, order *domain.Order) error {
	atomic.AddInt32(&b.calls, 1)
	return b.err
}

// recordingProducer 记录发布的领域事件。
type recordingProducer struct {
	mu        sync.Mutex
	completed []*domain.OrderCompletedEvent
	alerts    []*domain.StockLowEvent
}

func (p *recordingProducer) PublishOrderCompleted(_ context.Context, e *domain.OrderCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *recordingProducer) PublishStockLow(_ context.Context, e *domain.StockLowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, e)
	return nil
}

// fakeCache 按 Set 内容提供命中，并统计各操作次数。
type fakeCache struct {
	mu          sync.Mutex
	data        []byte
	gets        int
	sets        int
	invalidates int
}

func (c *fakeCache) Get(context.Context) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.data == nil {
		return nil, false
	}
	return c.data, true
}

func (c *fakeCache) Set(_ context.Context, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data = data
}

func (c *fakeCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidates++
	c.data = nil
}

// countingStore 统计 Snapshot 回源次数。
type countingStore struct {
	domain.Store
	snapshots int32
}

func (c *countingStore) Snapshot(ctx context.Context) ([]domain.Product, []domain.Order, error) {
	atomic.AddInt32(&c.snapshots, 1)
	return c.Store.Snapshot(ctx)
}

func orderRequest(customerID string, items ...ReserveItemDTO) *PlaceOrderRequest {
	return &PlaceOrderRequest{CustomerID: customerID, Items: items}
}

func TestPlaceOrder_Succeeds(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 9.99, 10)

	resp, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 7}))
	require.NoError(t, err)

	assert.NotEmpty(t, resp.OrderID)
	assert.Equal(t, "completed", resp.Status)
	require.Len(t, resp.Items, 1)
	assert.InDelta(t, 69.93, resp.Total, 1e-9)

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, report.Products, 1)
	assert.Equal(t, 3, report.Products[0].StockQuantity)
}

func TestPlaceOrder_DrainsStockToZero(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 9.99, 10)

	// 请求量等于剩余库存是成功的边界：库存允许归零
	resp, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 10}))
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Products[0].StockQuantity)

	_, err = svc.PlaceOrder(context.Background(),
		orderRequest("customer-2", ReserveItemDTO{ProductID: widget, Quantity: 1}))
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	assert.Equal(t, 0, insufficient.Shortages[0].Available)
}

func TestPlaceOrder_InsufficientStockReportsShortage(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 9.99, 10)

	_, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 7}))
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(),
		orderRequest("customer-2", ReserveItemDTO{ProductID: widget, Quantity: 5}))

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	assert.Equal(t, 5, insufficient.Shortages[0].Requested)
	assert.Equal(t, 3, insufficient.Shortages[0].Available)

	// 拒绝不留下任何副作用
	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Products[0].StockQuantity)
	assert.Len(t, report.Orders, 1)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())

	_, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: 404, Quantity: 1}))

	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []uint64{404}, notFound.ProductIDs)
}

func TestPlaceOrder_InvalidRequests(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 9.99, 10)

	_, err := svc.PlaceOrder(context.Background(), orderRequest("customer-1"))
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)

	_, err = svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 0}))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.PlaceOrder(context.Background(),
		orderRequest("", ReserveItemDTO{ProductID: widget, Quantity: 1}))
	assert.Error(t, err)
}

func TestPlaceOrder_MergesDuplicateItems(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 2, 10)

	resp, err := svc.PlaceOrder(context.Background(), orderRequest("customer-1",
		ReserveItemDTO{ProductID: widget, Quantity: 2},
		ReserveItemDTO{ProductID: widget, Quantity: 3},
	))
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 5, resp.Items[0].Quantity)

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Products[0].StockQuantity)
}

func TestPlaceOrder_RetriesTransientConflict(t *testing.T) {
	inner := memory.NewStore()
	store := &flakyStore{Store: inner, failures: 2}
	svc := newService(t, store, nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 10)

	resp, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 4}))

	// 前两次冲突对调用方透明，第三次成功
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&store.calls))
}

func TestPlaceOrder_ContentionAfterRetryBudget(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), failures: 100}
	svc := newService(t, store, nil, nil, fastOpts())

	_, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: 1, Quantity: 1}))

	var contention *domain.ContentionError
	require.ErrorAs(t, err, &contention)
	assert.ErrorIs(t, err, domain.ErrTxConflict)
	// 首次尝试 + MaxRetries 次重试
	assert.Equal(t, 4, contention.Attempts)
	assert.EqualValues(t, 4, atomic.LoadInt32(&store.calls))
}

func TestPlaceOrder_CallerCancellationIsContention(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 调用方取消中断了事务：对外是可重试的冲突语义，不是持久化故障
	_, err := svc.PlaceOrder(ctx,
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 1}))

	var contention *domain.ContentionError
	require.ErrorAs(t, err, &contention)
	var persistence *domain.PersistenceError
	assert.False(t, errors.As(err, &persistence))
}

func TestPlaceOrder_PersistenceFailureNeverRetried(t *testing.T) {
	store := &brokenStore{Store: memory.NewStore(), err: errors.New("disk on fire")}
	svc := newService(t, store, nil, nil, fastOpts())

	_, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: 1, Quantity: 1}))

	var persistence *domain.PersistenceError
	require.ErrorAs(t, err, &persistence)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.calls))
}

func TestPlaceOrder_ConcurrentNeverOversells(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 10)

	const workers = 8
	var wg sync.WaitGroup
	var succeeded, insufficient int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(),
				orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 3}))
			var e *domain.InsufficientStockError
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.As(err, &e):
				atomic.AddInt32(&insufficient, 1)
			}
		}()
	}
	wg.Wait()

	// 库存 10、每单 3：恰好 3 单成交，剩余 1 件
	assert.EqualValues(t, 3, succeeded)
	assert.EqualValues(t, workers-3, insufficient)

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Products[0].StockQuantity)
	assert.Len(t, report.Orders, 3)
}

func TestPlaceOrder_OverlappingItemSetsComplete(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	a := seedProduct(t, svc, "alpha", 1, 1000)
	b := seedProduct(t, svc, "beta", 1, 1000)

	// 两组 goroutine 以相反的行项目顺序提交同一对商品，
	// 归一化后的统一加锁顺序必须让它们全部在限期内完成
	const iterations = 50
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < iterations; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := svc.PlaceOrder(context.Background(), orderRequest("customer-1",
					ReserveItemDTO{ProductID: a, Quantity: 1},
					ReserveItemDTO{ProductID: b, Quantity: 1},
				))
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := svc.PlaceOrder(context.Background(), orderRequest("customer-2",
					ReserveItemDTO{ProductID: b, Quantity: 1},
					ReserveItemDTO{ProductID: a, Quantity: 1},
				))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("overlapping orders did not complete, likely a lock ordering regression")
	}

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	for _, p := range report.Products {
		assert.Equal(t, 1000-iterations, p.StockQuantity)
	}
}

func TestPlaceOrder_ConservesStock(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.PlaceOrder(context.Background(),
				orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 7}))
		}()
	}
	wg.Wait()

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)

	reserved := 0
	for _, o := range report.Orders {
		for _, it := range o.Items {
			reserved += it.Quantity
		}
	}
	// 初始库存 = 剩余库存 + 已完成订单的预占总量
	assert.Equal(t, 100, report.Products[0].StockQuantity+reserved)
}

func TestPlaceOrder_PublishesEvents(t *testing.T) {
	producer := &recordingProducer{}
	svc := newService(t, memory.NewStore(), producer, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 9.99, 10)

	resp, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 8}))
	require.NoError(t, err)

	producer.mu.Lock()
	defer producer.mu.Unlock()
	require.Len(t, producer.completed, 1)
	assert.Equal(t, resp.OrderID, producer.completed[0].OrderID)
	assert.Equal(t, "customer-1", producer.completed[0].CustomerID)

	// 扣减后剩 2 件，低于阈值 5，触发告警事件
	require.Len(t, producer.alerts, 1)
	assert.Equal(t, widget, producer.alerts[0].ProductID)
	assert.Equal(t, 2, producer.alerts[0].Stock)
	assert.Equal(t, 5, producer.alerts[0].Threshold)
}

func TestPlaceOrder_NoAlertAboveThreshold(t *testing.T) {
	producer := &recordingProducer{}
	svc := newService(t, memory.NewStore(), producer, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 9.99, 10)

	_, err := svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 2}))
	require.NoError(t, err)

	producer.mu.Lock()
	defer producer.mu.Unlock()
	assert.Len(t, producer.completed, 1)
	assert.Empty(t, producer.alerts)
}

func TestReport_LowStockThreshold(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 3)
	seedProduct(t, svc, "gadget", 1, 50)

	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Threshold)
	require.Len(t, report.LowStock, 1)
	assert.Equal(t, widget, report.LowStock[0].ProductID)

	// 自定义阈值覆盖默认值
	report, err = svc.Report(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, report.LowStock, 2)

	report, err = svc.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, report.LowStock)
}

func TestReport_CacheHitAndInvalidation(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	cache := &fakeCache{}
	svc := newService(t, store, nil, cache, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 10)

	// 首次回源并写缓存，第二次命中缓存
	_, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Products[0].StockQuantity)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.snapshots))

	// 自定义阈值绕过缓存
	_, err = svc.Report(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&store.snapshots))

	// 下单使缓存失效,下一次报表看到新库存
	_, err = svc.PlaceOrder(context.Background(),
		orderRequest("customer-1", ReserveItemDTO{ProductID: widget, Quantity: 4}))
	require.NoError(t, err)
	report, err = svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Products[0].StockQuantity)
}

func TestRestock_RejectsNonPositiveQuantity(t *testing.T) {
	svc := newService(t, memory.NewStore(), nil, nil, fastOpts())
	widget := seedProduct(t, svc, "widget", 1, 1)

	err := svc.Restock(context.Background(), &RestockRequest{ProductID: widget, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	require.NoError(t, svc.Restock(context.Background(), &RestockRequest{ProductID: widget, Quantity: 9}))
	report, err := svc.Report(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Products[0].StockQuantity)
}
