package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	dir, err := os.MkdirTemp("", "vox")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "vox.sock")
}

func TestRoundTrip(t *testing.T) {
	path := socketPath(t)
	ln, err := StartServer(path, func(m ControlMessage) ControlReply {
		switch m.Cmd {
		case CmdSay:
			return ControlReply{OK: true, Message: "heard " + m.Text}
		default:
			return ControlReply{Message: "unknown command " + m.Cmd}
		}
	})
	require.NoError(t, err)
	defer ln.Close()

	reply, err := SendCommand(path, ControlMessage{Cmd: CmdSay, Text: "open github"}, time.Second)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "heard open github", reply.Message)

	reply, err = SendCommand(path, ControlMessage{Cmd: "reboot"}, time.Second)
	require.NoError(t, err)
	assert.False(t, reply.OK)
}

func TestSendCommand_NoDaemon(t *testing.T) {
	_, err := SendCommand(socketPath(t), ControlMessage{Cmd: CmdStatus}, time.Second)
	assert.Error(t, err)
}
