package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func identityTestRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seenUserID string
	r := gin.New()
	r.GET("/protected", Identity(), func(c *gin.Context) {
		seenUserID = CurrentUserID(c)
		c.Status(http.StatusOK)
	})
	return r, &seenUserID
}

func TestIdentity_ValidHeader(t *testing.T) {
	r, seen := identityTestRouter()
	userID := uuid.New().String()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(UserIDHeader, userID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, *seen)
}

func TestIdentity_MissingHeader(t *testing.T) {
	r, _ := identityTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIdentity_MalformedUserID(t *testing.T) {
	r, _ := identityTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(UserIDHeader, "not-a-uuid")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
