package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"vassist/internal/metrics"
)

// Message kinds understood by the assistant.
const (
	KindPartial = "stt.partial"
	KindFinal   = "stt.final"
	KindAnswer  = "answer"
	KindPrompt  = "prompt"
	KindReply   = "reply"
	KindOutcome = "outcome"
)

type Bus struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

func NewBus(wsURL string) (*Bus, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bus url must be ws:// or wss://, got %q", wsURL)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	slog.Info("Connected to bus", "url", wsURL)
	return &Bus{conn: conn}, nil
}

func (b *Bus) Read() (*Message, error) {
	_, msg, err := b.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var m Message
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("bus frame: %w", err)
	}

	metrics.BusMessagesTotal.WithLabelValues(m.Kind, "in").Inc()
	return &m, nil
}

// Write is safe for concurrent use.
func (b *Bus) Write(m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.BusMessagesTotal.WithLabelValues(m.Kind, "out").Inc()
	return nil
}

func (b *Bus) Close() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return b.conn.Close()
}
