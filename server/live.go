package server

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"net/http"
	"time"
	"tuiter/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// liveStats streams the stats of a tuit over a websocket: the current block
// first, then one message per reconciliation.
func (s *Server) liveStats(c *gin.Context) {
	if s.broker == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "live stats disabled"})
		return
	}

	// Subscribe before reading, events committed after the read are buffered.
	postId := c.Param("tid")
	subscription := s.broker.Subscribe(postId)
	defer subscription.Close()

	post, err := s.posts.GetPost(c.Request.Context(), postId)
	if err != nil {
		sendError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Infof("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	initial := events.StatsEvent{PostId: postId, Stats: post.Stats, Version: post.Version, At: time.Now().UTC()}
	if !writeEvent(conn, initial) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case event, ok := <-subscription.C:
			if !ok {
				return
			}
			if !writeEvent(conn, event) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event events.StatsEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		log.Debugf("Dropping live stats client: %v", err)
		return false
	}
	return true
}

// readUntilClosed drains client frames so pongs and close frames get
// processed, and signals closed once the connection fails.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
