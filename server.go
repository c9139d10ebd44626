package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server handles local HTTP requests that feed uplinks to the NCP and
// report on the session
type Server struct {
	Logger  *slog.Logger
	Uplinks *UplinkQueue
	// DevEUI is reported by the status endpoint
	DevEUI string
	// MaxPayload bounds the decoded uplink payload
	MaxPayload int
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /uplink", s.handleUplink)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// handleUplink queues a payload for transmission
func (s *Server) handleUplink(w http.ResponseWriter, r *http.Request) {
	type UplinkRequest struct {
		Port    int    `json:"port"`
		Payload string `json:"payload"`
	}

	var req UplinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Port < 1 || req.Port > 223 {
		s.sendError(w, "'port' must be between 1 and 223", http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(req.Payload)
	if err != nil {
		s.sendError(w, "'payload' must be hex encoded", http.StatusBadRequest)
		return
	}
	if s.MaxPayload > 0 && len(data) > s.MaxPayload {
		s.sendError(w, "'payload' is too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.Uplinks.Enqueue(req.Port, data); err != nil {
		if errors.Is(err, errQueueFull) {
			s.sendError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.Logger.Error("Failed to queue uplink", "error", err)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("Uplink queued", "port", req.Port, "bytes", len(data))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type DownlinkResponse struct {
		Port     int       `json:"port"`
		Payload  string    `json:"payload"`
		Received time.Time `json:"received"`
	}
	type StatusResponse struct {
		DevEUI    string            `json:"devEui"`
		Connected bool              `json:"connected"`
		Queued    int               `json:"queued"`
		Sent      int               `json:"sent"`
		Failed    int               `json:"failed"`
		Downlink  *DownlinkResponse `json:"lastDownlink,omitempty"`
	}

	st := s.Uplinks.Status()
	resp := StatusResponse{
		DevEUI:    s.DevEUI,
		Connected: st.Connected,
		Queued:    st.Queued,
		Sent:      st.Sent,
		Failed:    st.Failed,
	}
	if d := st.Downlink; d != nil {
		resp.Downlink = &DownlinkResponse{Port: d.Port, Payload: hex.EncodeToString(d.Data), Received: d.Received}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
