package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"go-invoice-stock/pkg/jwt"

	"github.com/gofiber/fiber/v2"
)

func TestRequireAuthAndPrivilege(t *testing.T) {
	secret := []byte("mw-secret")
	app := fiber.New()
	app.Get("/stock", RequireAuth(secret), RequirePrivilege("stock:view"), func(c *fiber.Ctx) error {
		return c.SendString(Actor(c))
	})

	viewer, _ := jwt.GenerateToken(secret, "u1", "Viewer", []string{"stock:view"}, time.Hour)
	clerk, _ := jwt.GenerateToken(secret, "u2", "Clerk", []string{"invoice:create"}, time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", 401},
		{"bad scheme", "Token " + viewer, 401},
		{"bad token", "Bearer nope", 401},
		{"missing privilege", "Bearer " + clerk, 403},
		{"allowed", "Bearer " + viewer, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/stock", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
