package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wabridge/internal/dispatch"
	"wabridge/internal/store"
)

type fakeDispatcher struct {
	sendErr   error
	createErr error
	lastSend  dispatch.SendRequest
	created   string
}

func (f *fakeDispatcher) Send(_ context.Context, req dispatch.SendRequest) (store.Message, error) {
	f.lastSend = req
	if f.sendErr != nil {
		return store.Message{}, f.sendErr
	}
	return store.Message{ID: "SRV1", FromMe: true, To: "5511888888888@s.whatsapp.net"}, nil
}

func (f *fakeDispatcher) CreateChat(_ context.Context, phone string) (store.Conversation, error) {
	f.created = phone
	if f.createErr != nil {
		return store.Conversation{}, f.createErr
	}
	return store.Conversation{
		PhoneKey: "5511888888888@s.whatsapp.net",
		Name:     "Alice",
		Messages: []store.Message{},
	}, nil
}

type fakeSaver struct {
	url string
	err error
}

func (f *fakeSaver) Save([]byte, string, string) (string, error) { return f.url, f.err }

func newTestServer(t *testing.T, st *store.Store, d Dispatcher, m MediaSaver, mediaDir string) *httptest.Server {
	t.Helper()
	if st == nil {
		st = store.New(nil, nil)
	}
	srv := New(Options{
		Addr:           ":0",
		AllowedOrigins: []string{"http://localhost:5173"},
		MediaDir:       mediaDir,
	}, st, d, m, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestGetChats(t *testing.T) {
	st := store.New(nil, nil)
	st.Create(context.Background(), "5511888888888@s.whatsapp.net", "Alice")
	ts := newTestServer(t, st, &fakeDispatcher{}, nil, "")

	resp, err := http.Get(ts.URL + "/chats")
	if err != nil {
		t.Fatalf("GET /chats: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	snapshot := decodeBody[map[string]store.Conversation](t, resp)
	if conv, ok := snapshot["5511888888888@s.whatsapp.net"]; !ok || conv.Name != "Alice" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestCreateChat(t *testing.T) {
	d := &fakeDispatcher{}
	ts := newTestServer(t, nil, d, nil, "")

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"phoneNumber": "5511888888888"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[createChatResponse](t, resp)
	if !body.Success || body.Chat == nil {
		t.Errorf("body = %+v", body)
	}
	if d.created != "5511888888888" {
		t.Errorf("dispatcher got %q", d.created)
	}
}

func TestCreateChatUnregisteredNumber(t *testing.T) {
	st := store.New(nil, nil)
	d := &fakeDispatcher{createErr: dispatch.ErrNotRegistered}
	ts := newTestServer(t, st, d, nil, "")

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"phoneNumber": "5511888888888"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeBody[statusResponse](t, resp)
	if body.Success {
		t.Error("success = true on rejection")
	}
	if len(st.Snapshot()) != 0 {
		t.Error("store mutated by rejected create")
	}
}

func TestCreateChatValidation(t *testing.T) {
	ts := newTestServer(t, nil, &fakeDispatcher{}, nil, "")

	resp := postJSON(t, ts.URL+"/chat", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", resp.StatusCode)
	}

	raw, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = raw.Body.Close() }()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", raw.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	d := &fakeDispatcher{}
	ts := newTestServer(t, nil, d, nil, "")

	resp := postJSON(t, ts.URL+"/send-message", map[string]string{
		"phoneNumber": "5511888888888",
		"message":     "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[sendMessageResponse](t, resp)
	if !body.Success || body.MessageID != "SRV1" {
		t.Errorf("body = %+v", body)
	}
	if d.lastSend.Message != "hello" {
		t.Errorf("dispatcher got %+v", d.lastSend)
	}
}

func TestSendMessageFailure(t *testing.T) {
	d := &fakeDispatcher{sendErr: errors.New("not connected")}
	ts := newTestServer(t, nil, d, nil, "")

	resp := postJSON(t, ts.URL+"/send-message", map[string]string{
		"phoneNumber": "5511888888888",
		"message":     "hello",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	body := decodeBody[statusResponse](t, resp)
	if body.Success || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestCreateChatInvalidNumber(t *testing.T) {
	d := &fakeDispatcher{createErr: dispatch.ErrInvalidNumber}
	ts := newTestServer(t, nil, d, nil, "")

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"phoneNumber": "abc"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[statusResponse](t, resp)
	if body.Success {
		t.Error("success = true for invalid number")
	}
}

func TestSendMessageInvalidNumber(t *testing.T) {
	d := &fakeDispatcher{sendErr: dispatch.ErrInvalidNumber}
	ts := newTestServer(t, nil, d, nil, "")

	resp := postJSON(t, ts.URL+"/send-message", map[string]string{
		"phoneNumber": "abc",
		"message":     "hello",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[statusResponse](t, resp)
	if body.Success {
		t.Error("success = true for invalid number")
	}
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t, nil, &fakeDispatcher{}, nil, "")
	resp := postJSON(t, ts.URL+"/send-message", map[string]string{"message": "no target"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadMedia(t *testing.T) {
	saver := &fakeSaver{url: "http://localhost:3000/media/images/abc.jpg"}
	ts := newTestServer(t, nil, &fakeDispatcher{}, saver, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="photo.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte{0xff, 0xd8, 0xff})
	_ = mw.Close()

	resp, err := http.Post(ts.URL+"/upload-media", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload-media: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[uploadResponse](t, resp)
	if !body.Success || body.URL != saver.url {
		t.Errorf("body = %+v", body)
	}
}

func TestUploadMediaMissingFile(t *testing.T) {
	ts := newTestServer(t, nil, &fakeDispatcher{}, &fakeSaver{}, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	_ = mw.Close()

	resp, err := http.Post(ts.URL+"/upload-media", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServeMedia(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "images")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "abc.jpg"), []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, nil, &fakeDispatcher{}, nil, dir)

	resp, err := http.Get(ts.URL + "/media/images/abc.jpg")
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
