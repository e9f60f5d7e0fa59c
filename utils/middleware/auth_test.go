package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/utils/auth"
)

// The paths exercised here fail before any database access, so the
// middleware runs with a nil *gorm.DB.
func testMiddleware() *AuthMiddleware {
	return NewAuthMiddleware(auth.NewJWTManager(auth.JWTConfig{
		Secret: "test-secret",
		Expiry: time.Hour,
	}), nil)
}

func identityProbe(c *fiber.Ctx) error {
	_, authenticated := GetUser(c)
	return c.JSON(fiber.Map{"authenticated": authenticated})
}

func TestRequiredRejectsMissingAndMalformedTokens(t *testing.T) {
	app := fiber.New()
	app.Get("/", testMiddleware().Required(), identityProbe)

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestOptionalPassesAnonymously(t *testing.T) {
	app := fiber.New()
	app.Get("/", testMiddleware().Optional(), identityProbe)

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"invalid token treated as absent", "Bearer not-a-jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}

			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			var body map[string]bool
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("unmarshal %q: %v", raw, err)
			}
			if body["authenticated"] {
				t.Error("anonymous request resolved a user")
			}
		})
	}
}

func TestIdentityAccessorsOnAnonymousContext(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		if _, ok := GetUserID(c); ok {
			t.Error("GetUserID ok on anonymous context")
		}
		if _, ok := GetUser(c); ok {
			t.Error("GetUser ok on anonymous context")
		}
		if _, ok := GetTokenJTI(c); ok {
			t.Error("GetTokenJTI ok on anonymous context")
		}
		return c.SendStatus(fiber.StatusOK)
	})

	if _, err := app.Test(httptest.NewRequest("GET", "/", nil)); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
}
