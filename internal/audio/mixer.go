// Package audio talks to the PulseAudio/PipeWire mixer through pactl: it ducks
// other applications while the assistant waits for an answer, and performs the
// volume operations of system_control when no backend shard handles them.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var (
	percentRe = regexp.MustCompile(`(\d+)\s*%`)

	ErrUnsupported = errors.New("operation not handled by the local mixer")
)

// Runner executes one pactl invocation and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// Pactl runs the real pactl binary.
func Pactl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "pactl", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("pactl %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Stream is one sink input (an application playing audio).
type Stream struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

type Config struct {
	// SelfNames are application.name values never ducked.
	SelfNames []string
	// Factor scales other streams while ducked.
	Factor float64
	// MinVolume is the floor for ducked streams, in percent.
	MinVolume int
	Fade      time.Duration
	// Step is the default sink change for volume_up / volume_down, in percent.
	Step int
}

type Mixer struct {
	run Runner
	cfg Config

	mu          sync.Mutex
	active      bool
	originalVol map[int]int
}

func NewMixer(run Runner, cfg Config) *Mixer {
	if run == nil {
		run = Pactl
	}
	if cfg.Factor <= 0 || cfg.Factor > 1 {
		cfg.Factor = 0.3
	}
	cfg.MinVolume = max(0, min(cfg.MinVolume, maxVolume))
	if cfg.Step <= 0 {
		cfg.Step = 10
	}
	return &Mixer{run: run, cfg: cfg, originalVol: make(map[int]int)}
}

// Duck fades every foreign stream down to volume*Factor (but not below MinVolume).
func (m *Mixer) Duck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil
	}

	streams, err := m.streams(ctx)
	if err != nil {
		return err
	}

	m.originalVol = make(map[int]int)
	var targets []fadeTarget
	for _, s := range streams {
		if m.isSelf(s) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * m.cfg.Factor))
		to = max(m.cfg.MinVolume, min(to, maxVolume))

		m.originalVol[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: to})
	}

	if err := m.fade(ctx, targets); err != nil {
		return err
	}
	m.active = true
	return nil
}

// Unduck fades the streams ducked earlier back to their original volume.
// Streams that appeared in between are left alone.
func (m *Mixer) Unduck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}

	streams, err := m.streams(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		orig, ok := m.originalVol[s.ID]
		if !ok || m.isSelf(s) {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := m.fade(ctx, targets); err != nil {
		return err
	}
	m.originalVol = make(map[int]int)
	m.active = false
	return nil
}

// Control performs a system_control operation on the default sink.
func (m *Mixer) Control(ctx context.Context, op string) (string, error) {
	var args []string
	step := strconv.Itoa(m.cfg.Step) + "%"

	switch op {
	case "mute":
		args = []string{"set-sink-mute", "@DEFAULT_SINK@", "1"}
	case "unmute":
		args = []string{"set-sink-mute", "@DEFAULT_SINK@", "0"}
	case "volume_up":
		args = []string{"set-sink-volume", "@DEFAULT_SINK@", "+" + step}
	case "volume_down":
		args = []string{"set-sink-volume", "@DEFAULT_SINK@", "-" + step}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, op)
	}

	if _, err := m.run(ctx, args...); err != nil {
		return "", err
	}
	return strings.ReplaceAll(op, "_", " ") + " done", nil
}

func (m *Mixer) isSelf(s Stream) bool {
	for _, name := range m.cfg.SelfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func (m *Mixer) streams(ctx context.Context) ([]Stream, error) {
	out, err := m.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("list sink inputs: %w", err)
	}
	return ParseSinkInputs(string(out)), nil
}

// fade moves all targets together in 10ms steps over the configured duration.
func (m *Mixer) fade(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := max(1, int(m.cfg.Fade/minStep))
	stepDur := m.cfg.Fade / time.Duration(steps)
	if m.cfg.Fade <= 0 {
		steps = 0
	}

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := m.setVolume(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		if i < steps {
			time.Sleep(stepDur)
		}
	}
	return nil
}

func (m *Mixer) setVolume(ctx context.Context, id, percent int) error {
	percent = max(0, min(percent, maxVolume))
	_, err := m.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	return err
}

// ParseSinkInputs reads the output of `pactl list sink-inputs`.
func ParseSinkInputs(text string) []Stream {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []Stream
	for _, block := range parts[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		s := Stream{ID: id}
		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			// application.name = "Firefox"
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if i := strings.IndexByte(line, '"'); i >= 0 {
					rest := line[i+1:]
					if j := strings.IndexByte(rest, '"'); j >= 0 {
						s.AppName = rest[:j]
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}
