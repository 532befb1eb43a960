package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterDirectResolvesToItself(t *testing.T) {
	r := NewRouter()
	r.ConnectDirect("agent-1")
	assert.Equal(t, "agent-1", r.Resolve("agent-1"))
}

func TestRouterNextHopFallback(t *testing.T) {
	r := NewRouter()
	r.SetRoute("agent-2", "gateway")
	assert.Equal(t, "gateway", r.Resolve("agent-2"))
}

func TestRouterDirectTakesPrecedenceOverNextHop(t *testing.T) {
	r := NewRouter()
	r.SetRoute("agent-3", "gateway")
	r.ConnectDirect("agent-3")
	assert.Equal(t, "agent-3", r.Resolve("agent-3"))
}

func TestRouterUnknownResolvesToItself(t *testing.T) {
	r := NewRouter()
	assert.Equal(t, "ghost", r.Resolve("ghost"))
}

func TestRouterKnownReceivers(t *testing.T) {
	r := NewRouter()
	r.ConnectDirect("a")
	r.SetRoute("b", "gateway")
	assert.ElementsMatch(t, []string{"a", "b"}, r.KnownReceivers())
}
