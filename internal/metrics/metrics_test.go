package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDelivery_Labels(t *testing.T) {
	okBefore := testutil.ToFloat64(deliveries.WithLabelValues(PathRetry, "success"))
	failBefore := testutil.ToFloat64(deliveries.WithLabelValues(PathRetry, "failure"))

	RecordDelivery(PathRetry, nil)
	RecordDelivery(PathRetry, errors.New("boom"))
	RecordDelivery(PathRetry, errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(deliveries.WithLabelValues(PathRetry, "success")))
	assert.Equal(t, failBefore+2, testutil.ToFloat64(deliveries.WithLabelValues(PathRetry, "failure")))
}

func TestRecordQueue_SetsGauges(t *testing.T) {
	RecordQueue(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(queueItems.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(queueItems.WithLabelValues("overflow")))
}

func TestRecordNew_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(announcementsNew.WithLabelValues("99", "Normal"))
	RecordNew(99, "Normal", 0)
	RecordNew(99, "Normal", 2)
	assert.Equal(t, before+2, testutil.ToFloat64(announcementsNew.WithLabelValues("99", "Normal")))
}
