// cmd/stock-watch-gateway/main.go
//
// stock-watch-gateway 订阅低库存告警事件并通过 WebSocket 推送给在线的
// 运营端订阅者。它是一个纯粹的扇出组件，不参与任何库存事务。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"stockroom/internal/pkg/bootstrap"
	"stockroom/internal/pkg/logger"
	"stockroom/internal/pkg/mq"
)

const serviceName = "stock-watch-gateway"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 内部运营端，允许所有来源
		return true
	},
}

// Hub 维护所有活跃连接，把告警消息广播给每一个订阅者。
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	// done 在 run 退出后关闭，断连中的客户端据此放弃注销
	done chan struct{}
	lock sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client] = true
			h.lock.Unlock()
			logger.Logger.Info().Int("subscribers", len(h.clients)).Msg("Subscriber connected")
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.lock.Unlock()
			logger.Logger.Info().Msg("Subscriber disconnected")
		case message := <-h.broadcast:
			h.lock.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 写缓冲已满的慢客户端直接丢消息，不阻塞广播
				}
			}
			h.lock.RUnlock()
		}
	}
}

// Client 是一个 WebSocket 连接的代表
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// detach 把客户端从 Hub 摘除。Hub 已停机时直接返回，不能阻塞在无人消费的通道上。
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 订阅者不发业务消息，读循环只负责心跳和感知断连
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// consumeAlerts 从 Kafka 拉取低库存告警并交给 Hub 广播。
func consumeAlerts(ctx context.Context, reader *kafka.Reader, hub *Hub) error {
	logger.Logger.Info().Str("topic", reader.Config().Topic).Msg("Alert consumer started")
	propagator := otel.GetTextMapPropagator()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Logger.Error().Err(err).Msg("Could not read alert message, retrying")
			time.Sleep(time.Second)
			continue
		}

		carrier := mq.KafkaHeaderCarrier(msg.Headers)
		msgCtx := propagator.Extract(ctx, &carrier)
		logger.Ctx(msgCtx).Info().Msg("Broadcasting stock alert")

		hub.broadcast <- msg.Value
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to commit alert messages")
		}
	}
}

func main() {
	logger.Init(serviceName)
	cfg, err := bootstrap.LoadConfig("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	port := 8088
	if v, ok := os.LookupEnv("SERVICE_PORT"); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			port = parsed
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	reader := mq.NewReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.AlertTopic, serviceName)
	defer reader.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	server := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.run(gctx)
		return nil
	})
	g.Go(func() error {
		return consumeAlerts(gctx, reader, hub)
	})
	g.Go(func() error {
		logger.Logger.Info().Int("port", port).Msg("stock-watch-gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("stock-watch-gateway exited with error")
	}
	logger.Logger.Info().Msg("stock-watch-gateway gracefully shut down.")
}
