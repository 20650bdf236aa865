package jobs

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The UI is served from another origin during development
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// HandleEvents streams a job's progress events over a WebSocket. Events
// already emitted are replayed first. The connection is closed with a
// normal closure carrying the terminal state once the job is done.
func (m *Manager) HandleEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := m.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	log := m.logger.With().Str("job_id", job.ID).Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("Event stream opened")

	history, events, cancel := job.Subscribe()
	defer cancel()

	gone := readUntilClosed(conn, log)

	for _, e := range history {
		if err := writeEvent(conn, e); err != nil {
			log.Debug().Err(err).Msg("Event stream write failed")
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				closeStream(conn, job)
				return
			}
			if err := writeEvent(conn, e); err != nil {
				log.Debug().Err(err).Msg("Event stream write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-gone:
			log.Debug().Msg("Event stream closed by client")
			return
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed. The returned channel is closed when the client goes away.
func readUntilClosed(conn *websocket.Conn, log zerolog.Logger) <-chan struct{} {
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("WebSocket read error")
				}
				return
			}
		}
	}()
	return gone
}

func writeEvent(conn *websocket.Conn, e pipeline.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

func closeStream(conn *websocket.Conn, job *Job) {
	state := job.View().State
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, state)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
