package configbinder_test

import (
	"testing"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSettings struct {
	Total   int           `yaml:"total"`
	Label   string        `yaml:"label"`
	FailOn  []int         `yaml:"fail_on"`
	Delay   time.Duration `yaml:"delay"`
	Verbose bool          `yaml:"verbose"`
}

func TestBindProperties(t *testing.T) {
	var s counterSettings
	err := configbinder.BindProperties(map[string]interface{}{
		"total":   "42",
		"label":   "nightly",
		"fail_on": []interface{}{3, 7},
		"delay":   "150ms",
		"verbose": "true",
	}, &s)

	require.NoError(t, err)
	assert.Equal(t, counterSettings{Total: 42, Label: "nightly", FailOn: []int{3, 7}, Delay: 150 * time.Millisecond, Verbose: true}, s)
}

func TestBindProperties_EmptyKeepsDefaults(t *testing.T) {
	s := counterSettings{Total: 10}
	require.NoError(t, configbinder.BindProperties(nil, &s))
	assert.Equal(t, 10, s.Total)
}

func TestBindProperties_TypeMismatch(t *testing.T) {
	var s counterSettings
	err := configbinder.BindProperties(map[string]interface{}{"total": "many"}, &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counterSettings")
}
