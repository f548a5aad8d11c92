// Package sse fans batch events out to Server-Sent Events subscribers.
package sse

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/panora77956/v3-sub000/internal/domain"
)

// ClientBuffer is the per-subscriber channel size. Messages to a client
// whose buffer is full are dropped.
const ClientBuffer = 64

// Hub manages topic subscriptions. A single goroutine (Run) owns the topic
// map; everything else talks to it over channels.
type Hub struct {
	topics map[string]map[chan []byte]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
	done        chan struct{}

	logger zerolog.Logger
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run serves subscriptions until ctx ends. Later calls to Subscribe,
// Unsubscribe and Publish return without effect.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]struct{})
				h.topics[s.topic] = subs
			}
			subs[s.ch] = struct{}{}
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					h.logger.Debug().Str("topic", tm.topic).Msg("sse: dropped message for slow client")
				}
			}
		}
	}
}

// Done is closed once Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Subscribe registers a new client on topic and returns its channel. The
// hub never closes it.
func (h *Hub) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, ClientBuffer)
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}

// Publish queues msg for every subscriber of topic.
func (h *Hub) Publish(topic string, msg []byte) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	case <-h.done:
	}
}

// Sink publishes events to topic as JSON payloads.
func (h *Hub) Sink(topic string) domain.Sink {
	return domain.SinkFunc(func(e domain.Event) {
		data, err := json.Marshal(domain.EventPayload(e))
		if err != nil {
			h.logger.Warn().Err(err).Str("topic", topic).Str("kind", e.Kind()).Msg("sse: encode event failed")
			return
		}
		h.Publish(topic, data)
	})
}
