package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"vassist/internal/ipc"
)

func main() {
	socket := cli.String("socket", ipc.SocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Reply timeout")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s say <utterance> | answer <text> | status\n", os.Args[0])
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: cli.Arg(0), Text: strings.Join(cli.Args()[1:], " ")}
	switch msg.Cmd {
	case ipc.CmdSay, ipc.CmdAnswer:
		if strings.TrimSpace(msg.Text) == "" {
			cli.Usage()
			os.Exit(2)
		}
	case ipc.CmdStatus:
	default:
		cli.Usage()
		os.Exit(2)
	}

	reply, err := ipc.SendCommand(*socket, msg, *timeout)
	if err != nil {
		fmt.Println("vox-daemon not running:", err)
		os.Exit(1)
	}
	fmt.Println(reply.Message)
	if !reply.OK {
		os.Exit(1)
	}
}
