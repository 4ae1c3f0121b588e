package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantBody  string
		wantLevel zapcore.Level
	}{
		{
			name:      "client error keeps message",
			err:       fiber.NewError(fiber.StatusNotFound, "not found: request r1"),
			wantCode:  fiber.StatusNotFound,
			wantBody:  "not found: request r1",
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "storage unavailable",
			err:       fiber.NewError(fiber.StatusServiceUnavailable, "storage error: connection refused"),
			wantCode:  fiber.StatusServiceUnavailable,
			wantBody:  "storage error: connection refused",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:      "unexpected error is masked",
			err:       errors.New("nil pointer somewhere"),
			wantCode:  fiber.StatusInternalServerError,
			wantBody:  "internal server error",
			wantLevel: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(c *fiber.Ctx) error { return tt.err })

			req := httptest.NewRequest("GET", "/boom", nil)
			req.Header.Set(fiber.HeaderXRequestID, "corr-7")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			raw, _ := io.ReadAll(resp.Body)
			var body map[string]string
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if body["error"] != tt.wantBody {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantBody)
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if entries[0].ContextMap()["correlationId"] != "corr-7" {
				t.Fatalf("correlationId = %v, want corr-7", entries[0].ContextMap()["correlationId"])
			}
		})
	}
}
