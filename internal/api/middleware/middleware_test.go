package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/pkg/utils"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg config.Config) *fiber.App {
	app := fiber.New()
	app.Use(Metrics())
	app.Use(NewAuthMiddleware(cfg).AuthMiddleware())
	app.Get("/api/whoami/:id", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.Config{SecretKey: "secret", CookieName: "token"}
	app := newApp(cfg)
	tok, err := utils.GenerateToken("secret", "7", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: tok}) }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"forged", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok+"x") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami/1", nil)
			tt.setup(req)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	app := newApp(config.Config{SecretKey: "secret", CookieName: "token"})
	tok, err := utils.GenerateToken("secret", "7", time.Hour)
	require.NoError(t, err)
	before := requestCount(t, "200")

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/whoami/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	after := requestCount(t, "200")
	assert.Equal(t, 2.0, after-before)
}

func requestCount(t *testing.T, status string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.HTTPRequests.WithLabelValues("GET", "/api/whoami/:id", status).Write(&m))
	return m.GetCounter().GetValue()
}
