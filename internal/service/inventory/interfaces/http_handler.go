// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"stockroom/internal/pkg/logger"
	"stockroom/internal/service/inventory/application"
	"stockroom/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

// InventoryHandler 封装 inventory 服务的 HTTP 处理器。
// 它只做三件事：续接链路、JSON 编解码、把错误分类映射为状态码。
type InventoryHandler struct {
	service *application.InventoryAppService
}

// NewInventoryHandler 创建一个新的 HTTP 处理器实例
func NewInventoryHandler(service *application.InventoryAppService) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /place_order", h.placeOrderHandler)
	mux.HandleFunc("POST /add_product", h.addProductHandler)
	mux.HandleFunc("POST /restock", h.restockHandler)
	mux.HandleFunc("GET /report", h.reportHandler)
	mux.HandleFunc("GET /orders", h.ordersHandler)
}

func (h *InventoryHandler) placeOrderHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.PlaceOrder")
	defer span.End()

	var req application.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload", nil)
		return
	}
	span.SetAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.Int("order.item_count", len(req.Items)),
	)

	resp, err := h.service.PlaceOrder(ctx, &req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *InventoryHandler) addProductHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.AddProduct")
	defer span.End()

	var req application.AddProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload", nil)
		return
	}
	resp, err := h.service.AddProduct(ctx, &req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *InventoryHandler) restockHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.Restock")
	defer span.End()

	var req application.RestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload", nil)
		return
	}
	if err := h.service.Restock(ctx, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "restocked"})
}

func (h *InventoryHandler) reportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.Report")
	defer span.End()

	// threshold 缺省为 -1，表示使用配置的默认阈值
	threshold := -1
	if v := r.URL.Query().Get("threshold"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "threshold must be a non-negative integer", nil)
			return
		}
		threshold = parsed
	}

	resp, err := h.service.Report(ctx, threshold)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InventoryHandler) ordersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.Orders")
	defer span.End()

	resp, err := h.service.Report(ctx, -1)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": resp.Orders})
}

func (h *InventoryHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeDomainError 把错误分类映射为 HTTP 状态码。
// 四类失败对应四种调用方动作：修正请求 / 调整数量 / 稍后重试 / 人工介入，
// 因此绝不坍缩成一个笼统的 500。
func (h *InventoryHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *domain.NotFoundError
	var insufficient *domain.InsufficientStockError
	var contention *domain.ContentionError
	var persistence *domain.PersistenceError

	switch {
	case stderrors.As(err, &notFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), map[string]interface{}{
			"kind":        "not_found",
			"product_ids": notFound.ProductIDs,
		})
	case stderrors.As(err, &insufficient):
		shortages := make([]map[string]interface{}, 0, len(insufficient.Shortages))
		for _, s := range insufficient.Shortages {
			shortages = append(shortages, map[string]interface{}{
				"product_id": s.ProductID,
				"requested":  s.Requested,
				"available":  s.Available,
			})
		}
		writeJSONError(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"kind":      "insufficient_stock",
			"shortages": shortages,
		})
	case stderrors.As(err, &contention):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, err.Error(), map[string]interface{}{
			"kind":      "contention",
			"retryable": true,
		})
	case stderrors.As(err, &persistence):
		logger.Ctx(r.Context()).Error().Err(err).Msg("Persistence failure surfaced to caller")
		writeJSONError(w, http.StatusInternalServerError, err.Error(), map[string]interface{}{
			"kind":      "persistence",
			"retryable": false,
		})
	default:
		// 领域校验错误（空订单、非法数量等）都是调用方错误
		writeJSONError(w, http.StatusBadRequest, err.Error(), nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	payload := map[string]interface{}{"error": msg}
	for k, v := range details {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}
