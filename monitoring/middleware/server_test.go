package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"net/http"
	"net/http/httptest"
	"testing"
	"tuiter/monitoring"
)

func TestServerMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ServerMiddleware())
	router.GET("/tuits/:tid", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := monitoring.HttpRequestsTotal.WithLabelValues("/tuits/:tid", "418")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/tuits/a", "/tuits/b", "/metrics"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
	assert.Equal(t, float64(0), testutil.ToFloat64(monitoring.ActiveConnections))
}
