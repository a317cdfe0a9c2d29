package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const SocketPath = "/tmp/vox.sock"

const (
	CmdSay    = "say"
	CmdAnswer = "answer"
	CmdStatus = "status"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type ControlReply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Handler func(ControlMessage) ControlReply

// StartServer accepts control connections on path until the returned listener is closed.
func StartServer(path string, handler Handler) (net.Listener, error) {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if err != nil {
				log.Warn("ipc accept", "err", err)
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return ln, nil
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&msg); err != nil {
		log.Debug("ipc decode", "err", err)
		return
	}

	reply := handler(msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("ipc reply", "err", err)
	}
}

// SendCommand delivers one message and waits up to timeout for the reply.
func SendCommand(path string, msg ControlMessage, timeout time.Duration) (ControlReply, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
