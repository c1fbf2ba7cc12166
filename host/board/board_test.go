package board

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/protocol"
)

func newTestBoard(t *testing.T, h protocol.Handler) *Board {
	t.Helper()
	host, dev := net.Pipe()
	ep := protocol.NewEndpoint(dev, h)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ep.Serve(context.Background(), dev)
	}()

	b, err := ConnectPort(context.Background(), host)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Close()
		dev.Close()
		<-done
	})
	return b
}

func TestCommandMapsReplies(t *testing.T) {
	b := newTestBoard(t, func(req string) string {
		switch req {
		case "clear":
			return "ok queue cleared"
		case "ping":
			return "ok"
		case "bogus":
			return `err unknown command "bogus" (try help)`
		}
		return "?"
	})
	ctx := context.Background()

	text, err := b.Command(ctx, "clear")
	require.NoError(t, err)
	assert.Equal(t, "queue cleared", text)

	text, err = b.Command(ctx, "ping")
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = b.Command(ctx, "bogus")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "unknown command")

	_, err = b.Command(ctx, "other")
	assert.ErrorContains(t, err, "malformed reply")

	raw, err := b.Raw(ctx, "clear")
	require.NoError(t, err)
	assert.Equal(t, "ok queue cleared", raw)
}

func TestStatusParsesFields(t *testing.T) {
	b := newTestBoard(t, func(string) string {
		return `ok activity=winding queue=2 executing=true homing=HOMED error="layer 1: cancelled"`
	})
	s, err := b.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"activity":  "winding",
		"queue":     "2",
		"executing": "true",
		"homing":    "HOMED",
		"error":     "layer 1: cancelled",
	}, s)
}

func TestParseFieldsSkipsBareWords(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": ""}, ParseFields("stray a=1 word b= tail"))
}
