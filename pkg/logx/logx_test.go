package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugDomainFiltering(t *testing.T) {
	defer SetDebug(false, nil)

	SetDebug(true, []string{"workflow", "router"})
	assert.True(t, IsDebugEnabledFor("workflow"))
	assert.True(t, IsDebugEnabledFor("router"))
	assert.False(t, IsDebugEnabledFor("tools"))

	SetDebug(true, nil)
	assert.True(t, IsDebugEnabledFor("tools"), "nil domain list enables all components")

	SetDebug(false, nil)
	assert.False(t, IsDebugEnabledFor("workflow"))
}

func TestWithComponent(t *testing.T) {
	base := NewLogger("server")
	derived := base.WithComponent("server.runs")

	assert.Equal(t, "server", base.Component())
	assert.Equal(t, "server.runs", derived.Component())
}
