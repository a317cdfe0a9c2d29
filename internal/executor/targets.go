package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pkg/browser"

	"vassist/pkg/command"
	"vassist/pkg/protocol"
)

// URLOpener hands a URL or protocol URI to the desktop.
type URLOpener interface {
	OpenURL(url string) error
}

// AppLauncher starts a native application by executable name.
type AppLauncher interface {
	Launch(ctx context.Context, name string) error
}

// Forwarder passes an action to an external backend (search, music, messaging, power).
// It returns the backend's short report.
type Forwarder interface {
	Forward(ctx context.Context, act command.Action) (string, error)
}

// VolumeControl performs system_control operations on this machine when no
// backend shard is routed for them.
type VolumeControl interface {
	Control(ctx context.Context, op string) (string, error)
}

type Clock interface {
	Now() time.Time
}

var ErrNoBackend = errors.New("no backend configured")

type BrowserOpener struct{}

func init() {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

func (BrowserOpener) OpenURL(url string) error {
	return browser.OpenURL(url)
}

// SystemLauncher launches applications the way the host OS expects.
type SystemLauncher struct{}

func (SystemLauncher) Launch(ctx context.Context, name string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", "", name)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", "-a", name)
	default:
		path, err := exec.LookPath(name)
		if err != nil {
			return fmt.Errorf("application %q not found", name)
		}
		cmd = exec.Command(path)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		// detached; reap in the background
		go cmd.Wait()
		return nil
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("launch %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ProtocolForwarder sends actions as frames to backend shards and waits for OK/ERR.
//
//	SHELL:RUN:SEARCH:query:b64.Z29sYW5n:VOX
type ProtocolForwarder struct {
	ptcl   *protocol.Protocol
	routes map[command.Kind]string
}

func NewProtocolForwarder(ptcl *protocol.Protocol, routes map[command.Kind]string) *ProtocolForwarder {
	return &ProtocolForwarder{ptcl: ptcl, routes: routes}
}

// Frame builds the request frame for act, without the sender.
func Frame(to string, act command.Action) protocol.Message {
	keys := make([]string, 0, len(act.Params))
	for k := range act.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, protocol.EncodeArg(k), protocol.EncodeArg(act.Params[k]))
	}
	return protocol.Message{
		To:   to,
		Verb: "RUN",
		Noun: strings.ToUpper(string(act.Kind)),
		Args: args,
	}
}

func (f *ProtocolForwarder) Forward(ctx context.Context, act command.Action) (string, error) {
	to, ok := f.routes[act.Kind]
	if !ok || to == "" {
		return "", fmt.Errorf("%w for %s", ErrNoBackend, act.Kind)
	}

	resp, err := f.ptcl.Forward(ctx, Frame(to, act))
	if err != nil {
		return "", err
	}
	if resp.Verb == "ERR" {
		reason := strings.ToLower(resp.Noun)
		if t := resp.Text(); t != "" {
			reason += ": " + t
		}
		return "", fmt.Errorf("%s refused: %s", to, reason)
	}
	if t := resp.Text(); t != "" {
		return t, nil
	}
	return fmt.Sprintf("%s handled by %s", act.Kind, to), nil
}
