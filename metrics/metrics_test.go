package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRedemption(t *testing.T) {
	before := testutil.ToFloat64(Redemptions.WithLabelValues("out_of_stock"))

	RecordRedemption("out_of_stock", 15*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(Redemptions.WithLabelValues("out_of_stock")))
}

func TestRecordWebhook(t *testing.T) {
	before := testutil.ToFloat64(WebhookRequests.WithLabelValues("POST", "duplicate"))

	RecordWebhook("POST", "duplicate")
	RecordWebhook("POST", "duplicate")

	assert.Equal(t, before+2, testutil.ToFloat64(WebhookRequests.WithLabelValues("POST", "duplicate")))
}

func TestStatusRecorder(t *testing.T) {
	rec := &StatusRecorder{ResponseWriter: httptest.NewRecorder(), Status: http.StatusOK}
	rec.WriteHeader(http.StatusPreconditionFailed)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Status)
}
