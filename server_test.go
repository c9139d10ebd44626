package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServer(t *testing.T) {
	newServer := func(capacity int) (*Server, *UplinkQueue) {
		q := NewUplinkQueue(slog.New(slog.DiscardHandler), capacity, 0, 123)
		return &Server{
			Logger:     slog.New(slog.DiscardHandler),
			Uplinks:    q,
			DevEUI:     "aabbcc0000ddeeff",
			MaxPayload: 4,
		}, q
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantQueued int
	}{
		{"queues uplink", `{"port": 2, "payload": "cafe"}`, http.StatusAccepted, 1},
		{"invalid json", `{`, http.StatusBadRequest, 0},
		{"port zero", `{"port": 0, "payload": "00"}`, http.StatusBadRequest, 0},
		{"port too high", `{"port": 224, "payload": "00"}`, http.StatusBadRequest, 0},
		{"payload not hex", `{"port": 1, "payload": "xyz"}`, http.StatusBadRequest, 0},
		{"payload too large", `{"port": 1, "payload": "0102030405"}`, http.StatusRequestEntityTooLarge, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, q := newServer(4)
			req := httptest.NewRequest(http.MethodPost, "/uplink", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := q.Status().Queued; got != tt.wantQueued {
				t.Errorf("queued = %d, want %d", got, tt.wantQueued)
			}
		})
	}

	t.Run("queue full", func(t *testing.T) {
		s, _ := newServer(0)
		req := httptest.NewRequest(http.MethodPost, "/uplink", strings.NewReader(`{"port": 1, "payload": "01"}`))
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		s, _ := newServer(1)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uplink", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("status", func(t *testing.T) {
		s, q := newServer(4)
		q.Enqueue(1, []byte{1})
		q.Receive([]byte{0xBE, 0xEF}, 223)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		var resp struct {
			DevEUI    string `json:"devEui"`
			Connected bool   `json:"connected"`
			Queued    int    `json:"queued"`
			Downlink  *struct {
				Port    int    `json:"port"`
				Payload string `json:"payload"`
			} `json:"lastDownlink"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if resp.DevEUI != "aabbcc0000ddeeff" || resp.Connected || resp.Queued != 1 {
			t.Errorf("unexpected status: %+v", resp)
		}
		if resp.Downlink == nil || resp.Downlink.Port != 223 || resp.Downlink.Payload != "beef" {
			t.Errorf("unexpected downlink: %+v", resp.Downlink)
		}
	})
}
