package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_ValidateRejectsUnknown(t *testing.T) {
	c := NewCatalog()

	assert.NoError(t, c.Validate([]Capability{"network", "storage"}))
	assert.NoError(t, c.Validate(nil))

	err := c.Validate([]Capability{"network", "telepathy"})
	require.ErrorIs(t, err, ErrInvalidCapability)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestCatalog_BuiltinEntries(t *testing.T) {
	c := NewCatalog()

	info, ok := c.Info("health_data")
	require.True(t, ok)
	assert.Equal(t, TierCritical, info.Tier)

	assert.True(t, c.Has("location"))
	assert.False(t, c.Has("root"))
}

func TestSecurityManifest_Requests(t *testing.T) {
	mf := SecurityManifest{
		PluginID:     "p1",
		Requested:    []Capability{"network", "location"},
		RegisteredAt: time.Now(),
	}

	assert.True(t, mf.Requests("network"))
	assert.False(t, mf.Requests("storage"))
}

func TestPluginState_Terminal(t *testing.T) {
	assert.True(t, StateDisabled.Terminal())
	for _, st := range []PluginState{StateRegistered, StatePermissionPending, StateActive, StateQuarantined, StateError} {
		assert.False(t, st.Terminal(), "state %s", st)
	}
}
