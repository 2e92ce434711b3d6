package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithOrderID(ctx, "order-1")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"order_id\":\"order-1\"")) {
		t.Fatalf("expected order_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected no stack when warn stack disabled")
	}
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug entry to be filtered, got %s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestLoggerMasksCustomerContact(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: FormatJSON})
	ctx := log.WithFields(context.Background(), map[string]any{
		"contact_email": "jan.kowalski@example.com",
		"phone":         "+48600100200",
		"order_id":      "o-1",
	})
	log.Info(ctx, "guest checkout")

	out := buf.String()
	if bytes.Contains(buf.Bytes(), []byte("jan.kowalski")) {
		t.Fatalf("email leaked into log: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"contact_email":"j***@example.com"`)) {
		t.Fatalf("expected masked email; entry=%s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"phone":"***200"`)) {
		t.Fatalf("expected masked phone; entry=%s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"order_id":"o-1"`)) {
		t.Fatalf("non sensitive fields must pass through; entry=%s", out)
	}
}

func TestLoggerErrorCarriesCode(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Error(context.Background(), "checkout failed", pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock"))
	if !bytes.Contains(buf.Bytes(), []byte(`"error_code":"INSUFFICIENT_STOCK"`)) {
		t.Fatalf("expected error code; entry=%s", buf.String())
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"a@b.pl":       "a***@b.pl",
		"nobody":       "***",
		"@example.com": "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
