package handlers

import (
	"time"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// StreamEvents streams a session's events over a websocket. A viewer joining
// late first receives the current token and countdown, or the closing
// summary, so it never waits for the next rotation to render.
func (h *Handlers) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.Sessions.Session(id)
	if err != nil {
		writeError(c, err)
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	sub := h.Events.Subscribe(id)
	defer sub.Close()
	if sess, err = h.Sessions.Session(id); err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	for _, ev := range h.backfill(sess) {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}
	if !sess.IsOpen() {
		closeConn(conn, websocket.CloseNormalClosure, "session closed")
		return
	}

	// Viewers only listen; reading detects the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					closeConn(conn, websocket.CloseTryAgainLater, "fell behind, reconnect")
				} else {
					closeConn(conn, websocket.CloseGoingAway, "session evicted")
				}
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				h.logger.Debug("viewer write failed", "session_id", id, "error", err)
				return
			}
			if ev.Type == models.EventSessionClosed {
				closeConn(conn, websocket.CloseNormalClosure, "session closed")
				return
			}
		}
	}
}

func (h *Handlers) backfill(sess models.Session) []models.Event {
	now := h.Clock.Now()
	if !sess.IsOpen() {
		return []models.Event{{
			Type:      models.EventSessionClosed,
			SessionID: sess.ID,
			At:        now,
			Data:      models.SessionClosed{Summary: sess.Summary()},
		}}
	}
	tok, err := h.Tokens.CurrentToken(sess.ID)
	if err != nil {
		return nil
	}
	return []models.Event{
		{
			Type:      models.EventTokenIssued,
			SessionID: sess.ID,
			At:        tok.IssuedAt,
			Data: models.TokenIssued{
				JTI:       tok.JTI,
				Code:      tok.ShortCode,
				Token:     tok.Signed,
				ExpiresAt: tok.ExpiresAt,
			},
		},
		{
			Type:      models.EventCountdown,
			SessionID: sess.ID,
			At:        now,
			Data:      models.Countdown{SecondsRemaining: tok.SecondsRemaining(now)},
		},
	}
}

func writeEvent(conn *websocket.Conn, ev models.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}
