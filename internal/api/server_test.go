package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fruitsalade/volumefs/internal/auth"
	"github.com/fruitsalade/volumefs/internal/events"
	"github.com/fruitsalade/volumefs/internal/kv"
	"github.com/fruitsalade/volumefs/internal/volume"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := volume.NewRegistry(kv.NewMemory(), 0)
	srv := NewServer(registry, auth.New(""))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestPatchThenList(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPatch, ts.URL+"/volumes/site/files", `{
		"patches": [
			{"path":"/home.json","patches":[{"op":"add","path":"","value":{"title":"home"}}]},
			{"path":"/sections/ProductShelf.tsx","content":"BC"}
		]
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	var patchResp volume.PatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&patchResp); err != nil {
		t.Fatal(err)
	}
	if len(patchResp.Results) != 2 {
		t.Fatalf("results = %d", len(patchResp.Results))
	}
	for _, r := range patchResp.Results {
		if !r.Accepted {
			t.Errorf("%s not accepted", r.Path)
		}
	}
	if patchResp.Timestamp == 0 {
		t.Error("missing timestamp")
	}

	listResp, err := http.Get(ts.URL + "/volumes/site/files/?content=true")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()

	var list volume.ListResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.VolumeID != "site" {
		t.Errorf("volumeId = %q", list.VolumeID)
	}
	entry, ok := list.FS["/home.json"]
	if !ok || entry.Content == nil || *entry.Content != `{"title":"home"}` {
		t.Errorf("unexpected /home.json entry: %+v", entry)
	}
	entry, ok = list.FS["/sections/ProductShelf.tsx"]
	if !ok || entry.Content == nil || *entry.Content != "BC" {
		t.Errorf("unexpected shelf entry: %+v", entry)
	}
}

func TestListWithoutContentSelector(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, http.MethodPatch, ts.URL+"/volumes/site/files",
		`{"patches":[{"path":"/f.txt","content":"x"}]}`).Body.Close()

	resp, err := http.Get(ts.URL + "/volumes/site/files/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var list volume.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	entry, ok := list.FS["/f.txt"]
	if !ok {
		t.Fatal("missing entry")
	}
	if entry.Content != nil {
		t.Errorf("content should be null, got %q", *entry.Content)
	}
}

func TestPutBulkReplace(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, http.MethodPatch, ts.URL+"/volumes/site/files",
		`{"patches":[{"path":"/old.txt","content":"old"}]}`).Body.Close()

	resp := doJSON(t, http.MethodPut, ts.URL+"/volumes/site/files",
		`{"/new.txt":{"content":"fresh"}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/volumes/site/files/?content=true")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var list volume.ListResponse
	json.NewDecoder(listResp.Body).Decode(&list)
	if _, ok := list.FS["/old.txt"]; ok {
		t.Error("put did not clear old file")
	}
	if entry := list.FS["/new.txt"]; entry.Content == nil || *entry.Content != "fresh" {
		t.Error("put did not write new file")
	}
}

func TestSubscribeWithoutUpgradeRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/volumes/site/files")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
	}
}

func TestSubscribeReceivesPatchEvent(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/volumes/site/files"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the handler a beat to register the sink before patching.
	time.Sleep(50 * time.Millisecond)

	resp := doJSON(t, http.MethodPatch, ts.URL+"/volumes/site/files",
		`{"messageId":"m-7","patches":[{"path":"/live.txt","content":"v"}]}`)
	var patchResp volume.PatchResponse
	json.NewDecoder(resp.Body).Decode(&patchResp)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev events.ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Path != "/live.txt" {
		t.Errorf("event path = %q", ev.Path)
	}
	if ev.Timestamp != patchResp.Timestamp {
		t.Errorf("event timestamp %d != patch timestamp %d", ev.Timestamp, patchResp.Timestamp)
	}
	if ev.MessageID != "m-7" {
		t.Errorf("event messageId = %q", ev.MessageID)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	registry := volume.NewRegistry(kv.NewMemory(), 0)
	srv := NewServer(registry, auth.New("sekrit"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/volumes/site/files/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	// Health stays public.
	health, _ := http.Get(ts.URL + "/health")
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", health.StatusCode)
	}
}
