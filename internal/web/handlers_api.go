package web

import (
	"errors"
	"net/http"
	"strconv"

	"zigbee-valve/internal/node"
	"zigbee-valve/internal/zcl"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type attributeResponse struct {
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	AttrID    uint16 `json:"attr_id"`
	Value     any    `json:"value"`
}

// handleAPIReadAttribute reads one attribute of the valve endpoint. IDs are
// decimal or 0x-prefixed hex.
func (s *Server) handleAPIReadAttribute(w http.ResponseWriter, r *http.Request) {
	cluster, err := parseID(r.PathValue("cluster"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cluster id"})
		return
	}
	attr, err := parseID(r.PathValue("attr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid attribute id"})
		return
	}

	v, err := s.attrs.ReadAttribute(node.EndpointID, cluster, attr)
	switch {
	case errors.Is(err, zcl.ErrUnknownCluster), errors.Is(err, zcl.ErrUnknownAttribute):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("read attribute", "err", err, "cluster", cluster, "attr", attr)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, attributeResponse{
		Endpoint:  node.EndpointID,
		ClusterID: cluster,
		AttrID:    attr,
		Value:     v,
	})
}

func parseID(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	return uint16(n), err
}
