package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, ConnectionStatus)
	assert.NotNil(t, RedisErrors)
	assert.NotNil(t, JobsSubmitted)
	assert.NotNil(t, WatchListWrites)
	assert.NotNil(t, JobsProcessed)
	assert.NotNil(t, JobProcessingDuration)
	assert.NotNil(t, JobsCleaned)
}

func TestSetConnection(t *testing.T) {
	SetConnection("redis", "metrics-test", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionStatus.WithLabelValues("redis", "metrics-test")))

	SetConnection("redis", "metrics-test", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionStatus.WithLabelValues("redis", "metrics-test")))
}
