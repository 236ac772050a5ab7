package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDownload(t *testing.T) {
	okBefore := testutil.ToFloat64(downloadsTotal.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(downloadsTotal.WithLabelValues("error"))
	bytesBefore := testutil.ToFloat64(bytesDownloaded)

	RecordDownload(1024, true)
	RecordDownload(10, false)

	gt.Equal(t, testutil.ToFloat64(downloadsTotal.WithLabelValues("success")), okBefore+1)
	gt.Equal(t, testutil.ToFloat64(downloadsTotal.WithLabelValues("error")), errBefore+1)
	gt.Equal(t, testutil.ToFloat64(bytesDownloaded), bytesBefore+1034)
}

func TestRecordLogin(t *testing.T) {
	before := testutil.ToFloat64(loginAttemptsTotal.WithLabelValues("token_not_found"))
	RecordLogin("token_not_found")
	gt.Equal(t, testutil.ToFloat64(loginAttemptsTotal.WithLabelValues("token_not_found")), before+1)
}

func TestRecordListing(t *testing.T) {
	before := testutil.ToFloat64(filesListed)
	RecordListing(true, 3)
	gt.Equal(t, testutil.ToFloat64(filesListed), before+3)
}

func TestHandler(t *testing.T) {
	RecordWatchTick()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	gt.Equal(t, rec.Code, http.StatusOK)
	gt.String(t, rec.Body.String()).Contains("portal_sync_watch_ticks_total")
}
