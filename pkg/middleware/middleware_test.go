package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"vaultkey-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func router(h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Tracing("test"), Logger(), Error())
	r.GET("/x", h)
	return r
}

func serve(r *gin.Engine) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	return rec
}

func TestErrorRendersBaseError(t *testing.T) {
	rec := serve(router(func(c *gin.Context) {
		_ = c.Error(errutil.Conflict("already revoked", errors.New("row gone")))
	}))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"error":{"code":"conflict","message":"already revoked","details":null}}`, rec.Body.String())
}

func TestErrorHidesPlainErrors(t *testing.T) {
	rec := serve(router(func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
	}))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "pq:")
}

func TestErrorLeavesWrittenResponses(t *testing.T) {
	rec := serve(router(func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
}
