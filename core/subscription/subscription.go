// Package subscription implements the WebSocket subscription fan-out half
// of the query surface (C11): newHeads, newTransactions,
// newTransactionReceipts, events, pendingTransactions and
// transactionStatus, each filterable by finality transition.
package subscription

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/ledger"
)

// Topic names one of the six subscribable streams of spec §4.11.
type Topic string

const (
	TopicNewHeads               Topic = "newHeads"
	TopicNewTransactions        Topic = "newTransactions"
	TopicNewTransactionReceipts Topic = "newTransactionReceipts"
	TopicEvents                 Topic = "events"
	TopicPendingTransactions    Topic = "pendingTransactions"
	TopicTransactionStatus      Topic = "transactionStatus"
)

// Message is one notification delivered to a subscriber: Finality names
// the transition that produced it, so the Hub can apply each subscriber's
// declared finality filter before delivery.
type Message struct {
	Topic    Topic
	Finality ledger.Finality
	Payload  interface{}
}

type subscriber struct {
	id       string
	ch       chan Message
	finality map[ledger.Finality]bool // nil means "every finality"
}

func (s *subscriber) accepts(f ledger.Finality) bool {
	if s.finality == nil {
		return true
	}
	return s.finality[f]
}

// Hub fans out published messages to every subscriber of the matching
// topic and finality, mirroring the teacher's
// networkAdapter.Subscribe(topic) (<-chan InboundMsg, func()) shape
// generalized from one gossip topic to the six query-surface topics, each
// with a finality filter instead of a peer filter.
type Hub struct {
	mu   sync.Mutex
	subs map[Topic]map[string]*subscriber
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[string]*subscriber)}
}

// Subscribe opens a new subscription on topic, delivering only messages
// whose Finality is in finalities (nil/empty means every finality). It
// returns a session-unique id (never reused, per spec §4.11) and the
// channel to read from; call the returned unsubscribe func to close it.
// A late subscriber never receives backfill (spec §5).
func (h *Hub) Subscribe(topic Topic, finalities []ledger.Finality) (id string, ch <-chan Message, unsubscribe func()) {
	sid := uuid.NewString()
	sub := &subscriber{id: sid, ch: make(chan Message, 64)}
	if len(finalities) > 0 {
		sub.finality = make(map[ledger.Finality]bool, len(finalities))
		for _, f := range finalities {
			sub.finality[f] = true
		}
	}

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[string]*subscriber)
	}
	h.subs[topic][sid] = sub
	h.mu.Unlock()

	return sid, sub.ch, func() { h.Unsubscribe(topic, sid) }
}

// Unsubscribe removes one subscriber. Idempotent: unsubscribing an
// already-removed or unknown id is a no-op, per spec §4.11.
func (h *Hub) Unsubscribe(topic Topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[topic]
	if !ok {
		return
	}
	if sub, ok := subs[id]; ok {
		close(sub.ch)
		delete(subs, id)
	}
}

// Publish delivers msg to every current subscriber of msg.Topic whose
// finality filter accepts msg.Finality. Delivery is non-blocking: a
// subscriber whose channel is full misses that notification (it stays
// subscribed) rather than stalling the
// publisher, since notifications are dispatched after the core lock has
// already been released (spec §5).
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	subs := h.subs[msg.Topic]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s.accepts(msg.Finality) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- msg:
		default:
			logrus.WithFields(logrus.Fields{"topic": msg.Topic, "subscriber": s.id}).Warn("subscription: slow subscriber dropped a notification")
		}
	}
}

// Pump writes every Message from ch to conn as JSON until ch closes or a
// write fails. Intended to run in its own goroutine per WebSocket
// connection, fed by the channel Subscribe returned.
func Pump(conn *websocket.Conn, ch <-chan Message) {
	for msg := range ch {
		if err := conn.WriteJSON(msg); err != nil {
			logrus.WithError(err).Debug("subscription: websocket write failed, ending pump")
			return
		}
	}
}
