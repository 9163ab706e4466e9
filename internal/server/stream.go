package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"click-datastreams/internal/bus"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream upgrades GET /stream?topic=<derived topic> and forwards every
// message on that topic as a text frame. Each connection reads through its
// own consumer group.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not configured")
		return
	}
	topic := r.URL.Query().Get("topic")
	if !bus.IsDerivedTopic(topic) {
		writeError(w, http.StatusBadRequest, "unknown topic")
		return
	}

	consumer, err := s.opts.Bus.Consumer(topic, "stream-"+uuid.NewString())
	if err != nil {
		s.log.WithError(err).WithField("topic", topic).Error("Failed to open stream consumer")
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	defer consumer.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: handles pongs and notices the client going away.
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	msgs := make(chan bus.Message)
	go func() {
		defer close(msgs)
		for {
			m, err := consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, bus.ErrQueueClosed) {
					s.log.WithError(err).WithField("topic", topic).Warn("Stream fetch failed")
				}
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	s.log.WithField("topic", topic).Debug("Stream opened")
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, m.Value); err != nil {
				return
			}
			_ = consumer.Commit(ctx, m)
		}
	}
}
