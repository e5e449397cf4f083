package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (r *recorder) send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("connection closed")
	}
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestPublishReachesOnlySubscribedRoom(t *testing.T) {
	hub := NewHub(testLogger())

	a := &recorder{}
	b := &recorder{}
	clientA := NewClient(a.send)
	clientB := NewClient(b.send)

	hub.Subscribe(clientA, "binance:spot:BTCUSDT:1m")
	hub.Subscribe(clientB, "binance:spot:ETHUSDT:1m")

	hub.Publish("binance:spot:BTCUSDT:1m", []byte("btc"))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 0, b.count())
}

func TestFailedDeliveryRemovesSubscriberAndContinues(t *testing.T) {
	hub := NewHub(testLogger())

	dead := &recorder{fail: true}
	alive := &recorder{}
	deadClient := NewClient(dead.send)
	aliveClient := NewClient(alive.send)

	hub.Subscribe(deadClient, "room")
	hub.Subscribe(aliveClient, "room")

	hub.Publish("room", []byte("one"))
	assert.Equal(t, 1, alive.count(), "delivery must continue past a failed subscriber")

	hub.Publish("room", []byte("two"))
	assert.Equal(t, 2, alive.count())
	assert.Equal(t, 1, hub.Rooms()["room"], "failed subscriber must be removed")
}

func TestUnsubscribeMidBroadcastIsSafe(t *testing.T) {
	hub := NewHub(testLogger())

	var clients []*Client
	for i := 0; i < 10; i++ {
		r := &recorder{}
		c := NewClient(r.send)
		clients = append(clients, c)
		hub.Subscribe(c, "room")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			hub.Publish("room", []byte("tick"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			hub.Unsubscribe(c)
		}
	}()
	wg.Wait()

	hub.Publish("room", []byte("after"))
	assert.Equal(t, 0, hub.Rooms()["room"])
}

func TestResubscribeMovesClient(t *testing.T) {
	hub := NewHub(testLogger())

	r := &recorder{}
	c := NewClient(r.send)
	hub.Subscribe(c, "old")
	hub.Subscribe(c, "new")

	hub.Publish("old", []byte("x"))
	assert.Equal(t, 0, r.count())

	hub.Publish("new", []byte("y"))
	assert.Equal(t, 1, r.count())
}
