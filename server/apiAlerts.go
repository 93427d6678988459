package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/vigilcam/vigil/pkg/gen"
	"github.com/vigilcam/vigil/pkg/www"
	"github.com/vigilcam/vigil/server/defs"
)

const defaultAlertListSize = 50
const maxAlertListSize = 500

func (s *Server) httpAlertList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	max := www.QueryInt(r, "max")
	if max <= 0 {
		max = defaultAlertListSize
	}
	www.SendJSON(w, s.Alerts.Recent(gen.Clamp(max, 1, maxAlertListSize)))
}

// httpAlertSendTest injects a synthetic alert for operator verification.
// It goes through the same dedup/cooldown as organic events.
func (s *Server) httpAlertSendTest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	action, err := defs.ParseActionType(params.ByName("actionType"))
	www.CheckClient(err)
	cfg, err := s.configDB.GetChannelFromID(id)
	checkChannel(err)
	s.Alerts.SendTestAlert(id, action, cfg.Sensitivity)
	www.SendOK(w)
}

// httpAlertWebSocket streams every emitted alert to the client as JSON
func (s *Server) httpAlertWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Alert websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	feed := s.Alerts.AddWatcher()
	defer s.Alerts.RemoveWatcher(feed)

	// Reader goroutine exists only to notice the client going away
	closed := make(chan bool)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case alert := <-feed:
			if err := conn.WriteJSON(alert); err != nil {
				s.Log.Infof("Alert websocket closed: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
