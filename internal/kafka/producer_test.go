package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProducer_RetryIntervalDoublesToCap(t *testing.T) {
	p := &Producer{config: &ProducerConfig{
		RetryInterval:    time.Second,
		MaxRetryInterval: 10 * time.Second,
	}}

	assert.Equal(t, time.Second, p.retryInterval(1))
	assert.Equal(t, 2*time.Second, p.retryInterval(2))
	assert.Equal(t, 4*time.Second, p.retryInterval(3))
	assert.Equal(t, 8*time.Second, p.retryInterval(4))

	// Capped from here on
	assert.Equal(t, 10*time.Second, p.retryInterval(5))
	assert.Equal(t, 10*time.Second, p.retryInterval(20))
}

func TestProducer_RetryIntervalBaseAboveCap(t *testing.T) {
	p := &Producer{config: &ProducerConfig{
		RetryInterval:    time.Minute,
		MaxRetryInterval: 30 * time.Second,
	}}

	assert.Equal(t, 30*time.Second, p.retryInterval(1))
	assert.Equal(t, 30*time.Second, p.retryInterval(2))
}
