package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSanitizeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Plain", "Hello, reader", "Hello, reader"},
		{"CRLF injection", "Hi\r\nBcc: victim@example.com", "HiBcc: victim@example.com"},
		{"Unicode kept", "Привет, читатель", "Привет, читатель"},
		{"DEL dropped", "a\x7fb", "ab"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := sanitizeHeader(test.in); got != test.want {
				t.Errorf("Expected %q, got %q", test.want, got)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Paragraphs", "<html><body><h2>Hello, alice!</h2>\n<p>New   post</p></body></html>", "Hello, alice! New post"},
		{"Fragment", "<p>x</p>", "x"},
		{"Empty", "", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := plainText(test.in); got != test.want {
				t.Errorf("Expected %q, got %q", test.want, got)
			}
		})
	}
}

func TestBuildMIME(t *testing.T) {
	raw := buildMIME("reader@example.com", "Subject line", "<p>body</p>")

	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	msg := string(decoded)
	for _, want := range []string{
		"To: reader@example.com\r\n",
		"Subject: Subject line\r\n",
		"Content-Type: text/html; charset=utf-8\r\n\r\n<p>body</p>",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected message to contain %q, got %q", want, msg)
		}
	}
}

func TestBuildMIMEEncodesSubject(t *testing.T) {
	subject := "Здравствуй, Иван. A new article in your section!"
	raw := buildMIME("ivan@example.com", subject, "<p>body</p>")

	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var header string
	for _, line := range strings.Split(string(decoded), "\r\n") {
		if strings.HasPrefix(line, "Subject: ") {
			header = strings.TrimPrefix(line, "Subject: ")
		}
	}

	for _, r := range header {
		if r > 127 {
			t.Fatalf("expected ASCII-only subject header, got %q", header)
		}
	}

	got, err := new(mime.WordDecoder).DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if got != subject {
		t.Fatalf("Expected %q, got %q", subject, got)
	}
}

func TestBrevoProviderSend(t *testing.T) {
	var got brevoSendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider("key", "bot@example.com", "NewsPortal", slog.New(slog.DiscardHandler))
	p.endpoint = srv.URL

	if err := p.Send(context.Background(), "reader@example.com", "Hi\nthere", "<p>x</p>"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Text != "x" {
		t.Fatalf("unexpected text content: %q", got.Text)
	}

	if got.Subject != "Hithere" || got.To[0].Email != "reader@example.com" || got.Sender.Name != "NewsPortal" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestBrevoProviderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewBrevoProvider("key", "bot@example.com", "NewsPortal", slog.New(slog.DiscardHandler))
	p.endpoint = srv.URL

	if err := p.Send(context.Background(), "reader@example.com", "s", "b"); err == nil {
		t.Fatalf("expected error for 400 response")
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single request, got %d", n)
	}
}

func TestIsPermanentStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, test := range tests {
		t.Run(http.StatusText(test.code), func(t *testing.T) {
			if got := isPermanentStatus(test.code); got != test.want {
				t.Errorf("Expected %v for %d, got %v", test.want, test.code, got)
			}
		})
	}
}
