package kafkaclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kafkesc/kcl-lag-exporter/internal/kconfig"
)

func TestDial_NoBrokersReturnsError(t *testing.T) {
	_, err := Dial(kconfig.KafkaConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dialing kafka brokers")
}

func TestHandles_Close_NilFieldsAreSafe(t *testing.T) {
	h := &Handles{}
	assert.NoError(t, h.Close())
}
