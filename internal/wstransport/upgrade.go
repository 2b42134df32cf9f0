package wstransport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades GET /api/ws and registers each connection with the Hub
// Manager, grounded on the teacher's websocket_service.go wiring of
// Hub.ServeHTTP into the HTTP mux.
type Server struct {
	Hub        *hub.Manager
	Dispatcher *Dispatcher
}

// NewServer builds a Server from its collaborators.
func NewServer(mgr *hub.Manager, d *Dispatcher) *Server {
	return &Server{Hub: mgr, Dispatcher: d}
}

// ServeHTTP upgrades the connection, registers it with the hub, and runs
// its read/write pumps until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Named("wstransport").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := NewClient(conn, s.Hub, s.Dispatcher)
	s.Hub.Register(c)
	c.Start()
}
