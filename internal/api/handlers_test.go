package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"strat-scanner/internal/auth"
	"strat-scanner/internal/database"
	"strat-scanner/internal/events"
	"strat-scanner/internal/scanner"
)

type fakeScanner struct {
	mu    sync.Mutex
	last  *scanner.ScanResult
	scans int
}

func (f *fakeScanner) Scan(ctx context.Context) *scanner.ScanResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	f.last = &scanner.ScanResult{ScanID: "scan-1", TickerCount: 2, EndTime: time.Now()}
	return f.last
}

func (f *fakeScanner) GetLastResult() *scanner.ScanResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeScanner) Tickers() []string { return []string{"SPY", "QQQ"} }

type fakeJournal struct {
	alerts    []*database.AlertRecord
	healthErr error
	lastLimit int
}

func (f *fakeJournal) GetRecentAlerts(ctx context.Context, limit int) ([]*database.AlertRecord, error) {
	f.lastLimit = limit
	return f.alerts, nil
}

func (f *fakeJournal) HealthCheck(ctx context.Context) error { return f.healthErr }

func newTestServer(t *testing.T, journal AlertJournal, jwt *auth.JWTManager) (*Server, *fakeScanner) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := &fakeScanner{}
	s := NewServer(ServerConfig{Port: 0, TriggerInterval: time.Hour}, fs, journal, events.NewEventBus(), jwt)
	t.Cleanup(s.hub.Stop)
	return s, fs
}

func do(s *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not valid JSON: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("no journal", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil)
		w := do(s, http.MethodGet, "/api/health", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if decode(t, w)["status"] != "healthy" {
			t.Errorf("Unexpected body %s", w.Body.String())
		}
	})

	t.Run("database down", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeJournal{healthErr: errors.New("down")}, nil)
		w := do(s, http.MethodGet, "/api/health", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", w.Code)
		}
	})
}

func TestLastScan(t *testing.T) {
	s, fs := newTestServer(t, nil, nil)

	if w := do(s, http.MethodGet, "/api/scan/last", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before any scan, got %d", w.Code)
	}

	fs.Scan(context.Background())
	w := do(s, http.MethodGet, "/api/scan/last", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if data["scan_id"] != "scan-1" {
		t.Errorf("Unexpected scan %v", data)
	}
}

func TestRecentAlertsFromJournal(t *testing.T) {
	j := &fakeJournal{alerts: []*database.AlertRecord{{ID: "a1", Symbol: "SPY"}}}
	s, _ := newTestServer(t, j, nil)

	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{"", http.StatusOK, defaultAlertLimit},
		{"?limit=5", http.StatusOK, 5},
		{"?limit=100000", http.StatusOK, maxAlertLimit},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			j.lastLimit = 0
			w := do(s, http.MethodGet, "/api/alerts/recent"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d", tt.wantCode, w.Code)
			}
			if j.lastLimit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, j.lastLimit)
			}
		})
	}
}

func TestRecentAlertsFromBus(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	s.eventBus.PublishSignalAlerted(map[string]interface{}{"symbol": "SPY"})
	s.eventBus.PublishSignalAlerted(map[string]interface{}{"symbol": "QQQ"})

	deadline := time.Now().Add(2 * time.Second)
	for len(s.recent.latest(10)) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	w := do(s, http.MethodGet, "/api/alerts/recent", "")
	data, ok := decode(t, w)["data"].([]interface{})
	if !ok || len(data) != 2 {
		t.Fatalf("Expected two buffered alerts, got %s", w.Body.String())
	}
}

func TestAlertRing(t *testing.T) {
	r := newAlertRing(3)
	for i := 1; i <= 5; i++ {
		r.add(i)
	}
	r.add(nil)

	got := r.latest(10)
	if len(got) != 3 || got[0] != 5 || got[2] != 3 {
		t.Errorf("Expected newest three alerts, got %v", got)
	}
	if len(r.latest(1)) != 1 {
		t.Error("limit not honored")
	}
}

func TestTriggerScan(t *testing.T) {
	jwt := auth.NewJWTManager("secret", time.Hour)
	operator, _ := jwt.GenerateToken("ops", auth.RoleOperator)
	viewer, _ := jwt.GenerateToken("dash", auth.RoleViewer)

	t.Run("auth enforced", func(t *testing.T) {
		s, fs := newTestServer(t, nil, jwt)
		if w := do(s, http.MethodPost, "/api/scan/trigger", ""); w.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", w.Code)
		}
		if w := do(s, http.MethodPost, "/api/scan/trigger", viewer); w.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", w.Code)
		}
		if w := do(s, http.MethodPost, "/api/scan/trigger", operator); w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
		if fs.scans != 1 {
			t.Errorf("Expected one scan, got %d", fs.scans)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		s, fs := newTestServer(t, nil, nil)
		if w := do(s, http.MethodPost, "/api/scan/trigger", ""); w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if w := do(s, http.MethodPost, "/api/scan/trigger", ""); w.Code != http.StatusTooManyRequests {
			t.Errorf("Expected 429, got %d", w.Code)
		}
		if fs.scans != 1 {
			t.Errorf("Expected one scan, got %d", fs.scans)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	s.RegisterStatus("provider_breaker", func() map[string]interface{} {
		return map[string]interface{}{"state": "closed"}
	})

	w := do(s, http.MethodGet, "/api/status", "")
	data := decode(t, w)["data"].(map[string]interface{})
	components := data["components"].(map[string]interface{})
	if components["provider_breaker"].(map[string]interface{})["state"] != "closed" {
		t.Errorf("Unexpected components %v", components)
	}
	if data["auth_required"] != false {
		t.Errorf("Auth should not be required, got %v", data["auth_required"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	w := do(s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestWebSocketRelaysEvents(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome map[string]interface{}
	if err := conn.ReadJSON(&welcome); err != nil || welcome["type"] != "CONNECTED" {
		t.Fatalf("Expected welcome frame, got %v (%v)", welcome, err)
	}

	s.eventBus.PublishScanStarted("scan-9", 3)

	var event events.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if event.Type != events.EventScanStarted || event.Data["scan_id"] != "scan-9" {
		t.Errorf("Unexpected event %+v", event)
	}
	if s.hub.ClientCount() != 1 {
		t.Errorf("Expected one client, got %d", s.hub.ClientCount())
	}
}

func TestResponsesCarryTraceID(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	first := do(s, http.MethodGet, "/api/health", "").Header().Get("X-Trace-ID")
	second := do(s, http.MethodGet, "/api/scan/last", "").Header().Get("X-Trace-ID")
	if first == "" || second == "" {
		t.Fatalf("Expected X-Trace-ID on every response, got %q and %q", first, second)
	}
	if first == second {
		t.Error("Expected a distinct trace ID per request")
	}
}
