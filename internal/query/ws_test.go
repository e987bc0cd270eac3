package query

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastDropsOnFullClientBuffer(t *testing.T) {
	h := &Hub{clients: make(map[*websocket.Conn]chan []byte)}
	ch := make(chan []byte, 1)
	h.clients[(*websocket.Conn)(nil)] = ch

	h.broadcast([]byte("first"))
	h.broadcast([]byte("second")) // buffer full, dropped rather than blocking

	require.Len(t, ch, 1)
	require.Equal(t, []byte("first"), <-ch)
}

func TestHubWithNilConnDoesNotSubscribe(t *testing.T) {
	h, err := NewHub(nil, "parking_watch.change")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Nil(t, h.sub)
	h.Close() // must not panic with no subscription
}
