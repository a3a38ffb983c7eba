package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCompleted(t *testing.T) {
	before := testutil.ToFloat64(requestCount.WithLabelValues(http.MethodPut, "201"))
	bytesBefore := testutil.ToFloat64(requestBytes.WithLabelValues(http.MethodPut))

	RequestCompleted(http.MethodPut, http.StatusCreated, 6, time.Now())

	assert.Equal(t, before+1, testutil.ToFloat64(requestCount.WithLabelValues(http.MethodPut, "201")))
	assert.Equal(t, bytesBefore+6, testutil.ToFloat64(requestBytes.WithLabelValues(http.MethodPut)))
}

func TestStorageMetrics(t *testing.T) {
	before := testutil.ToFloat64(writeCount.WithLabelValues("success"))
	WriteFinished("success")
	assert.Equal(t, before+1, testutil.ToFloat64(writeCount.WithLabelValues("success")))

	transitions := testutil.ToFloat64(readOnlyCount)
	ReadOnlyTransition()
	assert.Equal(t, transitions+1, testutil.ToFloat64(readOnlyCount))

	DataFiles(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(dataFiles))
}

func TestHandler(t *testing.T) {
	DataFiles(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "backpack_storage_data_files 2"))
}
