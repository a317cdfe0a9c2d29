package bus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHub(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			_ = c.WriteMessage(mt, data)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBusRoundTrip(t *testing.T) {
	b, err := NewBus(echoHub(t))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Write(&Message{From: "vox", To: "ui", Kind: KindReply, Content: "Yes?"}))

	got, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, "vox", got.From)
	assert.Equal(t, KindReply, got.Kind)
	assert.Equal(t, "Yes?", got.Content)
}

func TestNewBus_RejectsHTTP(t *testing.T) {
	_, err := NewBus("http://localhost:8092/ws")
	assert.Error(t, err)
}
