package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/asyncarush/makemates-sub000/pkg/util"
)

func authRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", AuthMiddleware(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetInt(userIDKey)})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"

	token, err := util.GenerateJWT(42, secret)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	wrongToken, err := util.GenerateJWT(42, "other-secret")
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantUser   bool
	}{
		{
			name:       "bearer header",
			header:     "Bearer " + token,
			wantStatus: http.StatusOK,
			wantUser:   true,
		},
		{
			name:       "token query param",
			query:      token,
			wantStatus: http.StatusOK,
			wantUser:   true,
		},
		{
			name:       "missing token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong signing key",
			header:     "Bearer " + wrongToken,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header scheme",
			header:     "Basic " + token,
			wantStatus: http.StatusUnauthorized,
		},
	}

	r := authRouter(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantUser && !strings.Contains(w.Body.String(), `"userId":42`) {
				t.Errorf("authenticated user id not resolved: %s", w.Body.String())
			}
		})
	}
}
