package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/vigilcam/vigil/pkg/www"
	"github.com/vigilcam/vigil/server/channels"
	"github.com/vigilcam/vigil/server/configdb"
	"github.com/vigilcam/vigil/server/defs"
)

// checkChannel maps registry errors onto HTTP errors
func checkChannel(err error) {
	if err == nil {
		return
	}
	if channels.IsNotFound(err) {
		www.PanicNotFoundf("Channel not found")
	}
	www.CheckClient(err)
}

func (s *Server) httpChannelAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg := configdb.Channel{}
	www.ReadJSON(w, r, &cfg, 1024*1024)
	added, err := s.Registry.AddChannel(&cfg)
	www.CheckClient(err)
	www.SendID(w, added.ID)
}

func (s *Server) httpChannelUpdate(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := configdb.Channel{}
	www.ReadJSON(w, r, &cfg, 1024*1024)
	cfg.ID = www.ParseID(params.ByName("channelID"))
	checkChannel(s.Registry.UpdateChannel(&cfg))
	www.SendOK(w)
}

func (s *Server) httpChannelRemove(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	checkChannel(s.Registry.RemoveChannel(id))
	www.SendOK(w)
}

func (s *Server) httpChannelStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	checkChannel(s.Registry.StartChannel(id))
	www.SendOK(w)
}

func (s *Server) httpChannelStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	checkChannel(s.Registry.StopChannel(id))
	www.SendOK(w)
}

func (s *Server) httpChannelSetMode(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	mode, err := defs.ParseDetectionMode(params.ByName("mode"))
	www.CheckClient(err)
	checkChannel(s.Registry.SetMode(id, mode))
	www.SendOK(w)
}

func (s *Server) httpChannelSetSensitivity(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	level, err := defs.ParseSensitivity(params.ByName("level"))
	www.CheckClient(err)
	checkChannel(s.Registry.SetSensitivity(id, level))
	www.SendOK(w)
}

func (s *Server) httpChannelGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("channelID"))
	snap, err := s.Registry.ChannelSnapshot(id)
	checkChannel(err)
	www.SendJSON(w, &snap)
}

func (s *Server) httpChannelList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snaps, err := s.Registry.Snapshot()
	www.Check(err)
	www.SendJSON(w, snaps)
}

// httpSnapshot is the dashboard view: all channels plus the aggregate people count
func (s *Server) httpSnapshot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snaps, err := s.Registry.Snapshot()
	www.Check(err)
	type snapshot struct {
		Channels    []channels.Snapshot `json:"channels"`
		TotalPeople int                 `json:"totalPeople"`
	}
	total := 0
	for _, snap := range snaps {
		total += snap.PeopleCount
	}
	www.SendJSON(w, &snapshot{
		Channels:    snaps,
		TotalPeople: total,
	})
}
