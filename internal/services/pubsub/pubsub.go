// Package pubsub provides a simple publish-subscribe mechanism for the
// websocket event stream.
package pubsub

import (
	"fmt"
	"sync"
	"time"
)

// Topic represents a subscription topic.
type Topic string

const (
	TopicDeviceRegistered   Topic = "DEVICE_REGISTERED"
	TopicDeviceReconfigured Topic = "DEVICE_RECONFIGURED"
	TopicSettingsChanged    Topic = "SETTINGS_CHANGED"
	TopicFrameSynced        Topic = "FRAME_SYNCED"
)

// Topics lists every topic, in the order clients usually subscribe.
var Topics = []Topic{
	TopicDeviceRegistered,
	TopicDeviceReconfigured,
	TopicSettingsChanged,
	TopicFrameSynced,
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic   Topic       `json:"topic"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload"`
}

// Subscriber represents a subscription channel.
type Subscriber struct {
	ID      string
	Topic   Topic
	Filter  string // Optional filter value (e.g., a slot label)
	Channel chan Event
}

// PubSub manages subscriptions and message distribution.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
	nextID      int
}

// New creates a new PubSub instance.
func New() *PubSub {
	return &PubSub{
		subscribers: make(map[Topic][]*Subscriber),
	}
}

// Subscribe creates a new subscription for a topic.
func (ps *PubSub) Subscribe(topic Topic, filter string, bufferSize int) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.nextID++
	sub := &Subscriber{
		ID:      fmt.Sprintf("sub-%d", ps.nextID),
		Topic:   topic,
		Filter:  filter,
		Channel: make(chan Event, bufferSize),
	}

	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.subscribers[sub.Topic]
	for i, s := range subs {
		if s.ID == sub.ID {
			close(s.Channel)
			// copy so a concurrent Publish iterating the old slice is unaffected
			rest := make([]*Subscriber, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			ps.subscribers[sub.Topic] = append(rest, subs[i+1:]...)
			return
		}
	}
}

// Publish sends a message to all subscribers of a topic.
// If filter is non-empty, only sends to subscribers with matching filter or empty filter.
func (ps *PubSub) Publish(topic Topic, filter string, payload interface{}) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	ev := Event{Topic: topic, Time: time.Now(), Payload: payload}
	for _, sub := range ps.subscribers[topic] {
		if sub.Filter == "" || filter == "" || sub.Filter == filter {
			ps.deliver(sub, ev)
		}
	}
}

// PublishAll sends a message to all subscribers of a topic regardless of filter.
func (ps *PubSub) PublishAll(topic Topic, payload interface{}) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	ev := Event{Topic: topic, Time: time.Now(), Payload: payload}
	for _, sub := range ps.subscribers[topic] {
		ps.deliver(sub, ev)
	}
}

// deliver is non-blocking; a full subscriber misses the event.
// Callers hold the read lock so Unsubscribe cannot close the channel mid-send.
func (ps *PubSub) deliver(sub *Subscriber, ev Event) {
	select {
	case sub.Channel <- ev:
	default:
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *PubSub) SubscriberCount(topic Topic) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}
