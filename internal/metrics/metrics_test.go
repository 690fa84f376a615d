package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/metrics"
)

func TestRecordRuleExposedViaHandler(t *testing.T) {
	r := metrics.New()
	r.RuleStarted()
	r.RecordRule("cache_hit")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "forge_rules_total")
}

func TestSetQueueDepth(t *testing.T) {
	r := metrics.New()
	r.SetQueueDepth(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.True(t, strings.Contains(rec.Body.String(), "forge_ready_queue_depth 3"))
}
