package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/pubsub"
)

const (
	eventBuffer  = 32
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// events streams pubsub events as JSON text frames. ?topics=A,B narrows the
// stream and ?filter= restricts filtered topics to one device label.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeError(w, errUnavailable)
		return
	}

	topics := pubsub.Topics
	if raw := r.URL.Query().Get("topics"); raw != "" {
		topics = nil
		for _, name := range strings.Split(raw, ",") {
			topics = append(topics, pubsub.Topic(strings.TrimSpace(name)))
		}
	}
	filter := r.URL.Query().Get("filter")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subs := make([]*pubsub.Subscriber, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, s.cfg.Events.Subscribe(topic, filter, eventBuffer))
	}
	defer func() {
		for _, sub := range subs {
			s.cfg.Events.Unsubscribe(sub)
		}
	}()

	// fan every subscription into one channel so a single goroutine writes
	out := make(chan pubsub.Event, eventBuffer)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(ch <-chan pubsub.Event) {
			defer wg.Done()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-stop:
						return
					}
				case <-stop:
					return
				}
			}
		}(sub.Channel)
	}
	defer wg.Wait()
	defer close(stop)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("remote", r.RemoteAddr).Int("topics", len(subs)).Msg("🔌 Event stream opened")
	for {
		select {
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-closed:
			log.Debug().Str("remote", r.RemoteAddr).Msg("🔌 Event stream closed")
			return
		}
	}
}
