package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersCounters(t *testing.T) {
	ObserveHTTPRequest("a2a", http.MethodPost, http.StatusOK, 12*time.Millisecond)
	ObserveHTTPRequest("a2a", http.MethodPost, http.StatusInternalServerError, 700*time.Millisecond)
	ObserveSolveSession("succeeded", "", 7)
	ObserveToolInvocation("query-state", true)
	ObserveToolInvocation("deploy-contract", false)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`ethernaut_http_requests_total{handler="a2a",method="POST",code="200"}`,
		`ethernaut_http_request_errors_total{handler="a2a",method="POST"} 1`,
		`ethernaut_http_request_duration_seconds_bucket{handler="a2a",method="POST",le="+Inf"} 2`,
		`ethernaut_solve_sessions_total{status="succeeded",reason=""}`,
		"ethernaut_solve_actions_total",
		`ethernaut_tool_invocations_total{tool="deploy-contract",outcome="failure"} 1`,
		`ethernaut_tool_invocations_total{tool="query-state",outcome="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q\n%s", want, body)
		}
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
}
