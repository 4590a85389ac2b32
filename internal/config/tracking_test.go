package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackingEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"unset keeps default", "", true},
		{"false disables", "false", false},
		{"zero disables", "0", false},
		{"garbage ignored", "maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ODCACHE_TRACKING", tt.value)
			base := GetDefaultTrackingConfig()
			got := ApplyTrackingEnvironmentOverrides(base)
			assert.Equal(t, tt.want, got.Enabled)
			assert.True(t, base.Enabled)
		})
	}
}
