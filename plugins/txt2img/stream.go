package txt2img

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/InsulaLabs/txt2img/tools"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = maxParamsSize       // Maximum parameter mapping accepted from the peer.
)

type streamSession struct {
	plugin *Txt2ImgPlugin
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

func (p *Txt2ImgPlugin) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("tool")
	if _, err := p.registry.Get(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("failed to upgrade stream connection", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	s := &streamSession{
		plugin: p,
		conn:   conn,
		send:   make(chan []byte, 16),
		cancel: cancel,
	}
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		p.logger.Info("stream closed before parameters arrived", "remote_addr", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		s.writePump(ctx)
		close(done)
	}()
	go s.readPump()

	params, err := decodeParams(raw)
	if err != nil {
		s.push(Frame{Error: "invalid parameter mapping: " + err.Error()})
	} else {
		err = p.Invoke(ctx, name, params, func(m tools.Message) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.push(Frame{Message: &m})
			return nil
		})
		if err != nil && ctx.Err() == nil {
			s.push(Frame{Error: err.Error()})
		}
	}

	close(s.send)
	<-done
}

func (s *streamSession) push(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.plugin.logger.Error("failed to encode stream frame", "error", err)
		return
	}
	s.send <- data
}

// readPump only services control frames. A read error means the peer is
// gone and cancels the invocation.
func (s *streamSession) readPump() {
	defer s.cancel()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.plugin.logger.Warn("stream read error", "remote_addr", s.conn.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

func (s *streamSession) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		// Drain until the invocation stops producing.
		for range s.send {
		}
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.plugin.logger.Error("stream write error", "remote_addr", s.conn.RemoteAddr(), "error", err)
				s.cancel()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.plugin.logger.Error("stream ping error", "remote_addr", s.conn.RemoteAddr(), "error", err)
				s.cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
