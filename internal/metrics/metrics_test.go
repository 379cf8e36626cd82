package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveUploadCountsByResult(t *testing.T) {
	okBefore := testutil.ToFloat64(recordUploadsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(recordUploadsTotal.WithLabelValues("error"))

	ObserveUpload(nil)
	ObserveUpload(nil)
	ObserveUpload(errors.New("boom"))

	if got := testutil.ToFloat64(recordUploadsTotal.WithLabelValues("ok")) - okBefore; got != 2 {
		t.Errorf("expected 2 successful uploads, got %v", got)
	}
	if got := testutil.ToFloat64(recordUploadsTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("expected 1 failed upload, got %v", got)
	}
}

func TestObserveSyncSetsPartnerGauge(t *testing.T) {
	ObserveSync(true, 7)
	if got := testutil.ToFloat64(partnerEvents); got != 7 {
		t.Errorf("expected partner gauge 7, got %v", got)
	}

	ObserveSync(false, 0)
	if got := testutil.ToFloat64(partnerEvents); got != 7 {
		t.Errorf("unrefreshed sync must not reset the gauge, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveStoreCall("memory", "query", time.Now(), nil)
	ObserveGatekeeper("available")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"sharedcal_store_latency_seconds", "sharedcal_gatekeeper_decisions_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
