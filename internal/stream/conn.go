package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/internal/health"
)

// Handler processes one raw inbound message. Handler errors are logged and
// the read loop continues; only transport failures tear the connection down.
type Handler func(ctx context.Context, message []byte) error

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultReadTimeout    = 90 * time.Second
	dialTimeout           = 10 * time.Second
	writeControlTimeout   = 5 * time.Second
)

// Conn owns one resilient connection to an upstream feed. On any transport
// or dial failure it waits a fixed delay and reconnects; it never terminates
// on its own, only through context cancellation.
type Conn struct {
	name    string
	url     string
	handler Handler
	health  *health.Registry
	logger  *logrus.Logger

	reconnectDelay time.Duration
	pingInterval   time.Duration
	readTimeout    time.Duration
}

func New(name, url string, handler Handler, registry *health.Registry, logger *logrus.Logger) *Conn {
	return &Conn{
		name:           name,
		url:            url,
		handler:        handler,
		health:         registry,
		logger:         logger,
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		readTimeout:    defaultReadTimeout,
	}
}

// Run dials and reads until ctx is cancelled, reconnecting after every
// failure.
func (c *Conn) Run(ctx context.Context) {
	log := c.logger.WithField("stream", c.name)
	log.WithField("url", c.url).Info("Stream connection starting")
	defer log.Info("Stream connection stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("Stream connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Conn) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.logger.WithField("stream", c.name).Info("Stream connected")

	// A dead connection is detected by the read deadline: every message or
	// pong pushes it forward, and a ping-timeout is treated like any other
	// transport failure.
	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		c.health.Touch(c.name)

		if err := c.handler(ctx, message); err != nil {
			c.logger.WithFields(logrus.Fields{
				"stream": c.name,
				"error":  err.Error(),
			}).Warn("Failed to handle stream message")
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeControlTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
