package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeTelegram struct {
	mu       sync.Mutex
	calls    map[string]int
	lastForm map[string]string
}

func newFakeTelegram(t *testing.T) (*fakeTelegram, *httptest.Server) {
	t.Helper()
	f := &fakeTelegram{calls: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTelegram) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	method := parts[len(parts)-1]
	token := strings.TrimPrefix(parts[0], "bot")

	f.mu.Lock()
	f.calls[method]++
	f.lastForm = map[string]string{}
	for key := range r.PostForm {
		f.lastForm[key] = r.PostForm.Get(key)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if token == "bad-token" {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
		return
	}

	switch method {
	case "getMe":
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`)
	case "createForumTopic":
		if r.PostForm.Get("chat_id") == "-1" {
			io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: the chat is not a forum"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":{"message_thread_id":42,"name":"Visitor abc","icon_color":7322096}}`)
	case "getChat":
		if r.PostForm.Get("chat_id") == "-1" {
			io.WriteString(w, `{"ok":true,"result":{"id":-1,"type":"group","title":"Plain group"}}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":{"id":-100,"type":"supergroup","title":"Shop visitors","is_forum":true}}`)
	case "sendMessage":
		io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":-100,"type":"supergroup"}}}`)
	default:
		io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeTelegram) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeTelegram) form() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm
}

func newTestClient(srv *httptest.Server) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(srv.URL+"/bot%s/%s", time.Second, logger)
}

func TestCreateThread(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	client := newTestClient(srv)

	id, err := client.CreateThread(context.Background(), "good-token", -100, "Visitor abc")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if id != 42 {
		t.Fatalf("thread id = %d, want 42", id)
	}
	form := fake.form()
	if form["chat_id"] != "-100" || form["name"] != "Visitor abc" {
		t.Fatalf("unexpected form: %v", form)
	}
}

func TestPostMessage(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	client := newTestClient(srv)

	id, err := client.PostMessage(context.Background(), "good-token", -100, 42, "<b>New visitor</b>")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if id != 7 {
		t.Fatalf("message id = %d, want 7", id)
	}
	form := fake.form()
	if form["message_thread_id"] != "42" || form["parse_mode"] != "HTML" || form["text"] != "<b>New visitor</b>" {
		t.Fatalf("unexpected form: %v", form)
	}
}

func TestBotIsReusedPerToken(t *testing.T) {
	fake, srv := newFakeTelegram(t)
	client := newTestClient(srv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.PostMessage(ctx, "good-token", -100, 42, "hi"); err != nil {
			t.Fatalf("PostMessage: %v", err)
		}
	}
	if fake.count("getMe") != 1 {
		t.Fatalf("getMe called %d times, want 1", fake.count("getMe"))
	}
}

func TestAPIErrorsAreReturned(t *testing.T) {
	_, srv := newFakeTelegram(t)
	client := newTestClient(srv)

	_, err := client.CreateThread(context.Background(), "good-token", -1, "Visitor abc")
	if err == nil || !strings.Contains(err.Error(), "not a forum") {
		t.Fatalf("expected forum error, got %v", err)
	}

	if _, err := client.PostMessage(context.Background(), "bad-token", -100, 42, "hi"); err == nil {
		t.Fatalf("expected error for rejected token")
	}
	if _, err := client.PostMessage(context.Background(), "", -100, 42, "hi"); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestRequestHonoursContext(t *testing.T) {
	_, srv := newFakeTelegram(t)
	client := newTestClient(srv)

	if _, err := client.PostMessage(context.Background(), "good-token", -100, 42, "warm up"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.PostMessage(ctx, "good-token", -100, 42, "hi"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestVerifyForum(t *testing.T) {
	_, srv := newFakeTelegram(t)
	client := newTestClient(srv)

	title, err := client.VerifyForum(context.Background(), "good-token", -100)
	if err != nil {
		t.Fatalf("VerifyForum: %v", err)
	}
	if title != "Shop visitors" {
		t.Fatalf("title = %q", title)
	}

	if _, err := client.VerifyForum(context.Background(), "good-token", -1); err == nil || !strings.Contains(err.Error(), "not a forum") {
		t.Fatalf("expected plain group to be rejected, got %v", err)
	}
}
