package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/pkg/models"
)

const writeTimeout = 5 * time.Second

// Server exposes the subscriber boundary: clients connect to /ws/kline with
// exchange, market_type, symbol and tf query parameters and receive every
// payload published to the derived room. Any inbound message keeps the
// connection alive; subscriber payloads are not interpreted.
type Server struct {
	hub      *Hub
	exchange string
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

func NewServer(hub *Hub, exchange string, logger *logrus.Logger) *Server {
	return &Server{
		hub:      hub,
		exchange: exchange,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/ws/kline", s.handleKline)
	r.HandleFunc("/ws/ticker", s.handleTicker)
}

func (s *Server) handleKline(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	market := models.MarketType(q.Get("market_type"))
	symbol := strings.ToUpper(q.Get("symbol"))
	timeframe := q.Get("tf")
	if timeframe == "" {
		timeframe = "1m"
	}
	if symbol == "" || (market != models.MarketSpot && market != models.MarketFutures) {
		http.Error(w, "symbol and market_type are required", http.StatusBadRequest)
		return
	}

	room := models.CandleRoom(s.exchange, market, symbol, timeframe)
	s.serveRoom(w, req, room)
}

func (s *Server) handleTicker(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	market := models.MarketType(q.Get("market_type"))
	symbol := strings.ToUpper(q.Get("symbol"))
	if symbol == "" || (market != models.MarketSpot && market != models.MarketFutures) {
		http.Error(w, "symbol and market_type are required", http.StatusBadRequest)
		return
	}

	room := models.TickerRoom(s.exchange, market, symbol)
	s.serveRoom(w, req, room)
}

func (s *Server) serveRoom(w http.ResponseWriter, req *http.Request, room string) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(func(payload []byte) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, payload)
	})

	s.hub.Subscribe(client, room)
	s.logger.WithFields(logrus.Fields{
		"client_id":   client.ID.String(),
		"room":        room,
		"remote_addr": req.RemoteAddr,
	}).Info("Subscriber connected")

	// Keep-alive read loop: the subscriber's messages only prove liveness.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.Unsubscribe(client)
	conn.Close()
	s.logger.WithFields(logrus.Fields{
		"client_id": client.ID.String(),
		"room":      room,
	}).Info("Subscriber disconnected")
}
