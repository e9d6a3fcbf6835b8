package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"metals_scanner/models"
	"metals_scanner/pricecache"
)

const (
	heartbeatInterval = 10 * time.Second
	reconnectDelay    = 5 * time.Second
)

// Update is one streamed spot price message.
type Update struct {
	MetalType  string  `json:"metal_type"`
	PricePerOz float64 `json:"price_per_oz"`
}

// Client subscribes to a streaming spot price feed and writes observations
// through the price store, so the cache stays fresh without spending REST
// quota. The feed is optional; the scanner works without it.
type Client struct {
	conn           *websocket.Conn
	url            string
	store          pricecache.PriceStore
	log            *zap.SugaredLogger
	isConnected    bool
	reconnectDelay time.Duration
}

func NewClient(url string, store pricecache.PriceStore, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		url:            url,
		store:          store,
		log:            log,
		reconnectDelay: reconnectDelay,
	}
}

func (c *Client) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.conn = conn
	c.isConnected = true

	// Start heartbeat
	go c.heartbeat()

	return nil
}

func (c *Client) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		<-ticker.C
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
			c.log.Warnw("Failed to send heartbeat", "error", err)
			c.isConnected = false
			c.conn.Close()
			return
		}
	}
}

// Listen reads price updates until the context is canceled, reconnecting
// after connection loss.
func (c *Client) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		default:
		}

		if !c.isConnected {
			if err := c.Connect(); err != nil {
				c.log.Warnw("Feed connection failed", "error", err, "retry_in", c.reconnectDelay)
				time.Sleep(c.reconnectDelay)
				continue
			}
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Warnw("Error reading feed message", "error", err)
			c.isConnected = false
			c.conn.Close()
			continue
		}

		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(ctx context.Context, message []byte) {
	var update Update
	if err := json.Unmarshal(message, &update); err != nil {
		c.log.Warnw("Dropping malformed feed message", "error", err)
		return
	}
	if update.PricePerOz <= 0 {
		return
	}
	if update.MetalType != models.MetalGold && update.MetalType != models.MetalSilver {
		return
	}

	row := models.SpotPrice{
		MetalType:  update.MetalType,
		PricePerOz: update.PricePerOz,
		FetchedAt:  time.Now().UTC(),
	}
	if err := c.store.InsertPrice(ctx, row); err != nil {
		c.log.Errorw("Failed to store feed price", "metal", update.MetalType, "error", err)
		return
	}
	c.log.Debugw("Feed price stored", "metal", update.MetalType, "price_per_oz", update.PricePerOz)
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
