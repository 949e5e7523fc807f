package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"treasury-lens/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// OnReconnect is called after a reconnect has resubscribed every watch.
	// Changes made while disconnected are not replayed.
	OnReconnect func()
	// Logger receives connection and protocol errors.
	Logger zerolog.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Logger:            zerolog.Nop(),
	}
}

// subscription is one live account watch. Its server ID changes after a
// resubscribe.
type subscription struct {
	filter AccountFilter
	ch     chan AccountNotification
}

// pendingSubscribe waits for a subscription ID. The reader registers sub
// under the new ID before dispatching the next message.
type pendingSubscribe struct {
	sub     *subscription
	replace bool // drop oldID on confirmation
	oldID   int64
	ch      chan int64
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the server subscription ID to its watch.
	subs   map[int64]*subscription
	subsMu sync.RWMutex

	// pending maps request ID to the subscribe waiting for its ID.
	pending   map[uint64]*pendingSubscribe
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

var _ WSClient = (*WSClientImpl)(nil)

var errNotConnected = errors.New("not connected")

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 30 * time.Second
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   cfg.Logger.With().Str("endpoint", endpoint).Logger(),
		subs:     make(map[int64]*subscription),
		pending:  make(map[uint64]*pendingSubscribe),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeAccount subscribes to changes of one account. The returned
// channel survives reconnects and is closed by Close.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, filter AccountFilter) (<-chan AccountNotification, error) {
	if err := ValidateAddress(filter.Address); err != nil {
		return nil, err
	}

	// Buffer absorbs bursts; slow consumers only delay their own account.
	sub := &subscription{filter: filter, ch: make(chan AccountNotification, 256)}
	if _, err := c.subscribe(ctx, &pendingSubscribe{sub: sub}); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// subscribe sends accountSubscribe and waits until the reader has
// registered the subscription.
func (c *WSClientImpl) subscribe(ctx context.Context, p *pendingSubscribe) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}
	filter := p.sub.filter

	commitment := filter.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			filter.Address,
			map[string]string{"encoding": "base64", "commitment": commitment},
		},
	}

	p.ch = make(chan int64, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = p
	c.pendingMu.Unlock()

	// settle gives up on the request unless the reader already took it, in
	// which case the confirmation or rejection is on its way.
	settle := func(err error) (int64, error) {
		c.pendingMu.Lock()
		_, waiting := c.pending[reqID]
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		if waiting {
			return 0, err
		}
		if subID, ok := <-p.ch; ok {
			return subID, nil
		}
		return 0, err
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return settle(fmt.Errorf("not connected"))
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		return settle(fmt.Errorf("write subscribe: %w", err))
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-p.ch:
		if !ok {
			if c.closed.Load() {
				return 0, fmt.Errorf("client closed")
			}
			return 0, fmt.Errorf("subscribe %s rejected", filter.Address)
		}
		return subID, nil
	case <-timer.C:
		return settle(fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout))
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		return settle(ctx.Err())
	}
}

// Close closes the WebSocket connection and every subscription channel.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Wait for the reader before closing channels it may send on.
	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

// readLoop reads messages and dispatches them, reconnecting with
// exponential backoff on read errors.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		var message []byte
		err := errNotConnected
		if conn != nil {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
			_, message, err = conn.ReadMessage()
		}
		if err != nil {
			if c.closed.Load() {
				return
			}

			// A failed reconnect leaves conn nil; the next pass retries it.
			if !c.reconnecting.Swap(true) {
				c.logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("websocket read failed, reconnecting")
				c.wg.Add(1)
				go c.reconnect(reconnectDelay)

				reconnectDelay *= 2
				if reconnectDelay > c.config.MaxReconnectDelay {
					reconnectDelay = c.config.MaxReconnectDelay
				}
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces the connection and resubscribes every watch.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Error().Err(err).Msg("websocket reconnect failed")
		return
	}
	observability.RecordWSReconnect()

	// A resubscribe needs the reader to deliver its confirmation, so it
	// runs outside this goroutine's critical path.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
		if c.config.OnReconnect != nil && !c.closed.Load() {
			c.config.OnReconnect()
		}
	}()
}

func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	old := make(map[int64]*subscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.subscribe(ctx, &pendingSubscribe{sub: sub, replace: true, oldID: oldID})
		cancel()

		if err != nil {
			c.logger.Warn().Err(err).Str("account", sub.filter.Address).Msg("resubscribe failed")
		}
	}
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug().Err(err).Msg("undecodable websocket message")
		return
	}

	switch {
	case env.Error != nil:
		c.logger.Warn().Int("code", env.Error.Code).Str("msg", env.Error.Message).Uint64("id", env.ID).Msg("websocket error response")
		c.failPending(env.ID)
	case env.Method == "accountNotification" && env.Params != nil:
		c.handleAccountNotification(env.Params)
	case env.Method == "" && env.ID > 0:
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err == nil {
			c.confirm(env.ID, subID)
		}
	}
}

// confirm runs on the reader, so a notification following the
// confirmation always finds its subscription.
func (c *WSClientImpl) confirm(reqID uint64, subID int64) {
	c.pendingMu.Lock()
	p, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	c.subsMu.Lock()
	if p.replace {
		delete(c.subs, p.oldID)
	}
	c.subs[subID] = p.sub
	c.subsMu.Unlock()

	p.ch <- subID
}

// failPending drops a pending request so its caller times out early on
// the closed channel.
func (c *WSClientImpl) failPending(reqID uint64) {
	c.pendingMu.Lock()
	p, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()
	if ok {
		close(p.ch)
	}
}

func (c *WSClientImpl) handleAccountNotification(params *wsNotificationParams) {
	observability.RecordWSNotification("accountNotification")

	c.subsMu.RLock()
	sub, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	n := AccountNotification{
		Address:  sub.filter.Address,
		Lamports: params.Result.Value.Lamports,
		Owner:    params.Result.Value.Owner,
	}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}

	select {
	case sub.ch <- n:
	case <-c.done:
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debug().Err(err).Msg("ping failed")
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsEnvelope covers subscription responses, errors and notifications.
type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id"`
	Method  string                `json:"method"`
	Result  json.RawMessage       `json:"result"`
	Error   *rpcError             `json:"error"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext     `json:"context"`
	Value   wsAccountValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsAccountValue struct {
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
}
