package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ouvidoria/internal/config"
	"ouvidoria/internal/db"
	"ouvidoria/internal/engine"
	"ouvidoria/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 10, 24, 12, 0, 0, 0, time.UTC) }
	e.History.Now = e.Now
	handler, err := New(Config{Engine: e, BasePath: "/v0", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func intakeBody() map[string]any {
	return map[string]any{
		"kind":         "complaint",
		"category":     "health",
		"subject":      "Long wait at the clinic",
		"description":  "Waited four hours to be seen.",
		"citizen_name": "Maria Silva",
		"channel":      "app",
	}
}

func createCase(t *testing.T, ts *testServer) ManifestationResponse {
	t.Helper()
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/manifestations", intakeBody(), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", res.StatusCode, data)
	}
	var m ManifestationResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestCreateManifestation(t *testing.T) {
	ts := newTestServer(t)
	m := createCase(t, ts)
	if m.Protocol == "" || m.Status != "new" || m.RemainingDays != 20 {
		t.Fatalf("unexpected create response: %+v", m)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	ts := newTestServer(t)
	body := intakeBody()
	delete(body, "subject")
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/manifestations", body, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_intake" {
		t.Fatalf("error code = %s, want invalid_intake", envelope.Error.Code)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	ts := newTestServer(t)
	m := createCase(t, ts)
	res, data := doJSON(t, ts.client, http.MethodPatch,
		fmt.Sprintf("%s/v0/manifestations/%d", ts.URL, m.ID),
		map[string]any{"status": "closed"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("error code = %s, want illegal_transition", envelope.Error.Code)
	}
}

func TestRespondAndHistory(t *testing.T) {
	ts := newTestServer(t)
	m := createCase(t, ts)
	res, data := doJSON(t, ts.client, http.MethodPatch,
		fmt.Sprintf("%s/v0/manifestations/%d", ts.URL, m.ID),
		map[string]any{"response": "A crew has been dispatched."},
		map[string]string{"X-Operator": "ana"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d: %s", res.StatusCode, data)
	}
	var updated ManifestationResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != "responded" || updated.RespondedAt == nil {
		t.Fatalf("unexpected update response: %+v", updated)
	}

	res, data = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v0/manifestations/%d/history", ts.URL, m.ID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d: %s", res.StatusCode, data)
	}
	var trail []HistoryEntryResponse
	if err := json.Unmarshal(data, &trail); err != nil {
		t.Fatalf("decode trail: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail has %d entries, want 3: %+v", len(trail), trail)
	}
	if trail[0].Event != "created" || trail[1].Event != "response recorded" || trail[1].Actor != "ana" {
		t.Fatalf("unexpected trail: %+v", trail)
	}
}

func TestClearAssignmentWithNull(t *testing.T) {
	ts := newTestServer(t)
	m := createCase(t, ts)
	res, data := doJSON(t, ts.client, http.MethodPatch,
		fmt.Sprintf("%s/v0/manifestations/%d", ts.URL, m.ID),
		map[string]any{"assigned_to": "health department"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status = %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, ts.client, http.MethodPatch,
		fmt.Sprintf("%s/v0/manifestations/%d", ts.URL, m.ID),
		map[string]any{"assigned_to": nil}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d: %s", res.StatusCode, data)
	}
	var updated ManifestationResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.AssignedTo != nil {
		t.Fatalf("assigned_to = %v, want cleared", *updated.AssignedTo)
	}
}

func TestGetByProtocol(t *testing.T) {
	ts := newTestServer(t)
	m := createCase(t, ts)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/protocols/"+m.Protocol, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var got ManifestationResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != m.ID {
		t.Fatalf("got id %d, want %d", got.ID, m.ID)
	}
}

func TestDeleteCascades(t *testing.T) {
	ts := newTestServer(t)
	m := createCase(t, ts)
	res, data := doJSON(t, ts.client, http.MethodDelete,
		fmt.Sprintf("%s/v0/manifestations/%d", ts.URL, m.ID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v0/manifestations/%d", ts.URL, m.ID), nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", res.StatusCode)
	}
	res, _ = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v0/manifestations/%d/history", ts.URL, m.ID), nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("history after delete = %d, want 404", res.StatusCode)
	}
}

func TestListPagination(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		createCase(t, ts)
	}
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/manifestations?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %s", res.StatusCode, data)
	}
	var page paginatedManifestations
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page = %+v, want 2 items and a cursor", page)
	}
	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/manifestations?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status = %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode second page: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("second page has %d items, want 1", len(page.Items))
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	createCase(t, ts)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d: %s", res.StatusCode, data)
	}
	var s StatsResponse
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Total != 1 || s.ByStatus["new"] != 1 {
		t.Fatalf("stats = %+v", s)
	}
}
