package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/photobooth/backend/internal/album"
	"github.com/photobooth/backend/internal/config"
	"github.com/photobooth/backend/internal/health"
	"github.com/photobooth/backend/internal/picture"
	"github.com/photobooth/backend/internal/session"
	"github.com/photobooth/backend/internal/ws"
)

type testBooth struct {
	srv     *httptest.Server
	cfg     *config.Config
	logoURL string
}

func newTestBooth(t *testing.T) *testBooth {
	t.Helper()

	logo := image.NewNRGBA(image.Rect(0, 0, 100, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 100; x++ {
			logo.SetNRGBA(x, y, color.NRGBA{R: 40, G: 40, B: 180, A: 255})
		}
	}
	var logoBuf bytes.Buffer
	if err := png.Encode(&logoBuf, logo); err != nil {
		t.Fatal(err)
	}
	logoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(logoBuf.Bytes())
	}))
	t.Cleanup(logoSrv.Close)

	root := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Booth: config.BoothConfig{
			UploadDir:       root,
			PublicHost:      "booth.local:6012",
			SessionTimeout:  time.Hour,
			RecoveryTimeout: time.Hour,
			CounterDuration: time.Second,
			AuditLog:        root + "/sessions.log",
		},
		Watermark: config.WatermarkConfig{
			LogoLeftURL:  logoSrv.URL + "/left.png",
			LogoRightURL: logoSrv.URL + "/right.png",
		},
		Album: config.AlbumConfig{Limit: 10},
	}

	broadcaster := ws.NewBroadcaster()
	registry := session.NewRegistry()
	pipeline := picture.NewPipeline(root, cfg.Booth.PublicHost, logoSrv.Client())
	albums := album.NewRegistry(root, cfg.Booth.PublicHost)
	audit := session.NewAuditLog(cfg.Booth.AuditLog)
	collector := health.NewCollector(root)

	server := NewServer(cfg, registry, pipeline, albums, broadcaster, collector, audit)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	return &testBooth{srv: srv, cfg: cfg, logoURL: logoSrv.URL}
}

// connectDisplay opens a websocket display client and waits for it to
// register, so session starts are acknowledged.
func (b *testBooth) connectDisplay(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	// Registration happens in the upgrade handler goroutine; give it a
	// moment before the first start request.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func (b *testBooth) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(b.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *testBooth) startSession(t *testing.T, id string) {
	t.Helper()
	resp := b.post(t, "/sessions/"+id+"/start", map[string]any{"tag": "party"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start status = %d, want 204", resp.StatusCode)
	}
}

func capturePayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 99, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStartWithoutDisplayClient(t *testing.T) {
	b := newTestBooth(t)

	resp := b.post(t, "/sessions/s1/start", map[string]any{"tag": "party"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when no display client is connected", resp.StatusCode)
	}
}

func TestStartRequiresTag(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)

	resp := b.post(t, "/sessions/s1/start", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing tag", resp.StatusCode)
	}
}

func TestActionOnUnknownSession(t *testing.T) {
	b := newTestBooth(t)

	resp := b.post(t, "/sessions/ghost/counter", map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIllegalActionReturnsConflict(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)
	b.startSession(t, "s1")

	// validate straight after start skips counter and post
	resp := b.post(t, "/sessions/s1/validate", map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestDuplicateStartReturnsConflict(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)
	b.startSession(t, "s1")

	resp := b.post(t, "/sessions/s1/start", map[string]any{"tag": "party"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for duplicate id", resp.StatusCode)
	}
}

func TestFullGuestFlow(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)
	b.startSession(t, "s1")

	if resp := b.post(t, "/sessions/s1/counter", map[string]any{}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("counter status = %d, want 204", resp.StatusCode)
	}

	// multipart capture upload
	var mb bytes.Buffer
	mw := multipart.NewWriter(&mb)
	part, err := mw.CreateFormFile("image", "capture.jpg")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(capturePayload(t))
	mw.Close()

	resp, err := http.Post(b.srv.URL+"/sessions/s1/post", mw.FormDataContentType(), &mb)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status = %d, want 200", resp.StatusCode)
	}

	var posted postResponse
	if err := json.NewDecoder(resp.Body).Decode(&posted); err != nil {
		t.Fatal(err)
	}
	if posted.Message != "Upload ok" {
		t.Errorf("message = %q, want \"Upload ok\"", posted.Message)
	}
	if len(posted.Files) != 3 {
		t.Fatalf("file count = %d, want 3", len(posted.Files))
	}
	for _, f := range posted.Files {
		if !strings.HasPrefix(f, "http://booth.local:6012/uploads/party/") {
			t.Errorf("file URL %q outside tag prefix", f)
		}
	}

	if resp := b.post(t, "/sessions/s1/validate", map[string]any{}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("validate status = %d, want 204", resp.StatusCode)
	}

	// The validated pictures show up in the album listing.
	albumResp, err := http.Get(b.srv.URL + "/api/albums/party")
	if err != nil {
		t.Fatal(err)
	}
	defer albumResp.Body.Close()
	if albumResp.StatusCode != http.StatusOK {
		t.Fatalf("album status = %d, want 200", albumResp.StatusCode)
	}
	var pics []album.Picture
	if err := json.NewDecoder(albumResp.Body).Decode(&pics); err != nil {
		t.Fatal(err)
	}
	if len(pics) != 1 {
		t.Fatalf("album picture count = %d, want 1", len(pics))
	}
}

func TestUnvalidateRemovesFromAlbum(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)
	b.startSession(t, "s1")
	b.post(t, "/sessions/s1/counter", map[string]any{})

	var mb bytes.Buffer
	mw := multipart.NewWriter(&mb)
	part, _ := mw.CreateFormFile("image", "capture.jpg")
	part.Write(capturePayload(t))
	mw.Close()

	resp, err := http.Post(b.srv.URL+"/sessions/s1/post", mw.FormDataContentType(), &mb)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status = %d, want 200", resp.StatusCode)
	}

	if resp := b.post(t, "/sessions/s1/unvalidate", map[string]any{}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unvalidate status = %d, want 204", resp.StatusCode)
	}

	albumResp, err := http.Get(b.srv.URL + "/api/albums/party")
	if err != nil {
		t.Fatal(err)
	}
	defer albumResp.Body.Close()
	var pics []album.Picture
	if err := json.NewDecoder(albumResp.Body).Decode(&pics); err != nil {
		t.Fatal(err)
	}
	if len(pics) != 0 {
		t.Fatalf("album picture count = %d, want 0 after unvalidate", len(pics))
	}
}

func TestKillEndpoint(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)
	b.startSession(t, "s1")

	if resp := b.post(t, "/sessions/s1/kill", map[string]any{}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("kill status = %d, want 204", resp.StatusCode)
	}
	// Killing again is still a 204: the action is idempotent.
	if resp := b.post(t, "/sessions/s1/kill", map[string]any{}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("second kill status = %d, want 204", resp.StatusCode)
	}
}

func TestCloudStorageRejectedAtPost(t *testing.T) {
	b := newTestBooth(t)
	b.connectDisplay(t)

	resp := b.post(t, "/sessions/s1/start", map[string]any{"tag": "party", "cloudStorage": true})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start status = %d, want 204", resp.StatusCode)
	}
	b.post(t, "/sessions/s1/counter", map[string]any{})

	postResp := b.post(t, "/sessions/s1/post", map[string]any{"image": "data:image/jpeg;base64,AAAA"})
	if postResp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("post status = %d, want 501 for cloud storage", postResp.StatusCode)
	}
}

func TestAlbumLimitValidation(t *testing.T) {
	b := newTestBooth(t)

	resp, err := http.Get(b.srv.URL + "/api/albums/party?limit=nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad limit", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	b := newTestBooth(t)

	resp, err := http.Get(b.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestStartEmitsSnapshot(t *testing.T) {
	b := newTestBooth(t)
	conn := b.connectDisplay(t)
	b.startSession(t, "s1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}

	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			ID   string `json:"id"`
			Tag  string `json:"tag"`
			Step string `json:"step"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "startSession" {
		t.Errorf("event type = %q, want startSession", msg.Type)
	}
	if msg.Payload.ID != "s1" || msg.Payload.Tag != "party" {
		t.Errorf("payload = %+v, want id s1 tag party", msg.Payload)
	}
	if msg.Payload.Step == "" {
		t.Error("payload step missing")
	}
}
