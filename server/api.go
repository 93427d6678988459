package server

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/vigilcam/vigil/pkg/www"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	handle("GET", "/api/ping", s.httpPing)

	handle("POST", "/api/channel", s.httpChannelAdd)
	handle("PUT", "/api/channel/:channelID", s.httpChannelUpdate)
	handle("DELETE", "/api/channel/:channelID", s.httpChannelRemove)
	handle("POST", "/api/channel/:channelID/start", s.httpChannelStart)
	handle("POST", "/api/channel/:channelID/stop", s.httpChannelStop)
	handle("POST", "/api/channel/:channelID/mode/:mode", s.httpChannelSetMode)
	handle("POST", "/api/channel/:channelID/sensitivity/:level", s.httpChannelSetSensitivity)
	handle("GET", "/api/channel/:channelID", s.httpChannelGet)
	handle("GET", "/api/channels", s.httpChannelList)

	handle("GET", "/api/alerts", s.httpAlertList)
	handle("POST", "/api/alert/test/:channelID/:actionType", s.httpAlertSendTest)
	handle("GET", "/api/ws/alerts", s.httpAlertWebSocket)

	handle("GET", "/api/snapshot", s.httpSnapshot)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "pong")
}
