package middleware

import (
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func tokenFor(t *testing.T, role model.UserRole) string {
	t.Helper()
	u := &model.User{Email: "x@example.com", Role: role}
	u.ID = 1
	token, err := util.GenerateJWT(u, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(AuthMiddleware(testSecret))

	assert.Equal(t, http.StatusUnauthorized, do(r, "", ""))
	assert.Equal(t, http.StatusUnauthorized, do(r, "Authorization", "Bearer garbage"))
	assert.Equal(t, http.StatusNoContent, do(r, "Authorization", "Bearer "+tokenFor(t, model.Student)))
}

func TestRoleMiddleware(t *testing.T) {
	r := newRouter(AuthMiddleware(testSecret), RoleMiddleware(model.Teacher))

	assert.Equal(t, http.StatusForbidden, do(r, "Authorization", "Bearer "+tokenFor(t, model.Student)))
	assert.Equal(t, http.StatusNoContent, do(r, "Authorization", "Bearer "+tokenFor(t, model.Teacher)))
	assert.Equal(t, http.StatusNoContent, do(r, "Authorization", "Bearer "+tokenFor(t, model.Admin)))
}

func TestCronTokenOrAdmin(t *testing.T) {
	r := newRouter(CronTokenOrAdmin("cron-secret", testSecret))

	assert.Equal(t, http.StatusNoContent, do(r, util.CronTokenHeader, "cron-secret"))
	assert.Equal(t, http.StatusUnauthorized, do(r, util.CronTokenHeader, "wrong"))
	assert.Equal(t, http.StatusForbidden, do(r, "Authorization", "Bearer "+tokenFor(t, model.Teacher)))
	assert.Equal(t, http.StatusNoContent, do(r, "Authorization", "Bearer "+tokenFor(t, model.Admin)))

	// 未配置令牌时只能用管理员身份
	open := newRouter(CronTokenOrAdmin("", testSecret))
	assert.Equal(t, http.StatusUnauthorized, do(open, util.CronTokenHeader, ""))
}
