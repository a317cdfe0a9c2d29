package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	msg, err := Parse("VOX:ok:search:b64.aGk:SHELL")
	require.NoError(t, err)
	assert.Equal(t, "VOX", msg.To)
	assert.Equal(t, "OK", msg.Verb)
	assert.Equal(t, "SEARCH", msg.Noun)
	assert.Equal(t, []string{"b64.aGk"}, msg.Args)
	assert.Equal(t, "SHELL", msg.From)
	assert.Equal(t, "hi", msg.Text())

	for _, bad := range []string{"", "A:B:C", "A:B C:D:E", "A:B:C:we!rd:E", "A:B:C:$$"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestArgEncoding(t *testing.T) {
	assert.Equal(t, "github", EncodeArg("github"))

	enc := EncodeArg("hello there: bob")
	assert.True(t, strings.HasPrefix(enc, "b64."))
	assert.True(t, isToken(enc))

	dec, err := DecodeArg(enc)
	require.NoError(t, err)
	assert.Equal(t, "hello there: bob", dec)

	// a literal that happens to look encoded is encoded again
	assert.NotEqual(t, "b64.x", EncodeArg("b64.x"))

	_, err = DecodeArg("b64.%%%")
	assert.Error(t, err)
}

func TestMessageString(t *testing.T) {
	m := Message{To: "SHELL", Verb: "RUN", Noun: "SEARCH", Args: []string{"cats"}, From: "VOX"}
	assert.Equal(t, "SHELL:RUN:SEARCH:cats:VOX", m.String())

	r := m.Reply()
	r.Ok("SEARCH")
	r.From = "SHELL"
	assert.Equal(t, "VOX:OK:SEARCH:SHELL", r.String())
}

// hub answers every frame addressed to SHELL, and sends one unsolicited frame first.
func hub(t *testing.T, reply func(*Message) string) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte("VOX:PING:HUB:HUB"))
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			msg, err := Parse(string(data))
			if err != nil || msg.To != "SHELL" {
				continue
			}
			if out := reply(msg); out != "" {
				_ = c.WriteMessage(websocket.TextMessage, []byte(out))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestForward(t *testing.T) {
	url := hub(t, func(m *Message) string {
		r := m.Reply()
		r.Ok(m.Noun, EncodeArg("searched "+m.Text()))
		r.From = "SHELL"
		return r.String()
	})

	emitted := make(chan *Message, 4)
	ptcl, err := NewProtocol(PtclConfig{Shard: "VOX", Url: url, Reconn: 1, Timeout: time.Second, EmitOut: func(m *Message) { emitted <- m }})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ptcl.Run(ctx)

	fctx, fcancel := context.WithTimeout(ctx, 2*time.Second)
	defer fcancel()
	resp, err := ptcl.Forward(fctx, Message{To: "SHELL", Verb: "RUN", Noun: "SEARCH", Args: []string{EncodeArg("golang generics")}})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Verb)
	assert.Equal(t, "searched golang generics", resp.Text())

	select {
	case m := <-emitted:
		assert.Equal(t, "PING", m.Verb)
	case <-time.After(2 * time.Second):
		t.Fatal("unsolicited frame was not emitted")
	}
}

func TestForward_NoReply(t *testing.T) {
	url := hub(t, func(*Message) string { return "" })

	ptcl, err := NewProtocol(PtclConfig{Shard: "VOX", Url: url, Timeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ptcl.Run(ctx)

	fctx, fcancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer fcancel()
	_, err = ptcl.Forward(fctx, Message{To: "SHELL", Verb: "RUN", Noun: "LOCK"})
	assert.ErrorIs(t, err, ErrNoReply)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewProtocol_BadShard(t *testing.T) {
	_, err := NewProtocol(PtclConfig{Shard: "bad shard", Url: "ws://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestTransmit_StampsSender(t *testing.T) {
	got := make(chan *Message, 1)
	url := hub(t, func(m *Message) string {
		got <- m
		return ""
	})

	ptcl, err := NewProtocol(PtclConfig{Shard: "VOX", Url: url, Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { ptcl.Close() })

	msg := Message{To: "SHELL", Verb: "OK", Noun: "QUEUED", From: "SOMEONE"}
	require.NoError(t, ptcl.Transmit(msg))

	select {
	case m := <-got:
		assert.Equal(t, "VOX", m.From)
		assert.Equal(t, "QUEUED", m.Noun)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the hub")
	}
}
