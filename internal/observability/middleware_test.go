package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/flockctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestAdminAccessCountsByRouteTemplate(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := gin.New()
	r.Use(AdminAccess(logger, "hangar"))
	r.POST("/capabilities/:name", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	RegisterMetrics()
	counter := adminRequests.WithLabelValues("POST", "/capabilities/:name", "400")
	missing := adminRequests.WithLabelValues("GET", unmatchedRoute, "404")
	before, beforeMissing := testutil.ToFloat64(counter), testutil.ToFloat64(missing)

	for _, name := range []string{"warp", "flip"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/capabilities/"+name, nil))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(counter); got != before+2 {
		t.Fatalf("route counter = %v, want %v", got, before+2)
	}
	if got := testutil.ToFloat64(missing); got != beforeMissing+1 {
		t.Fatalf("unmatched counter = %v, want %v", got, beforeMissing+1)
	}

	out := buf.String()
	if !strings.Contains(out, `"fleet":"hangar"`) || !strings.Contains(out, `"route":"/capabilities/:name"`) {
		t.Fatalf("access log missing fields: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("client errors should log at warn: %s", out)
	}
}
