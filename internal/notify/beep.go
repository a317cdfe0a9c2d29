package notify

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error

	// one chime at a time
	playMu sync.Mutex
)

type decoder func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

func decoderFor(path string) (decoder, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return mp3.Decode, nil
	case ".ogg", ".oga":
		return vorbis.Decode, nil
	case ".wav":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
			return wav.Decode(rc)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported chime format %q", ext)
	}
}

// Chime plays an mp3, ogg vorbis or wav file and blocks until it finishes.
func Chime(path string) error {
	decode, err := decoderFor(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chime %s: %w", path, err)
	}

	streamer, format, err := decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode chime %s: %w", path, err)
	}
	defer streamer.Close()

	speakerOnce.Do(func() {
		speakerRate = format.SampleRate
		speakerErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return fmt.Errorf("init speaker: %w", speakerErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != speakerRate {
		s = beep.Resample(4, format.SampleRate, speakerRate, streamer)
	}

	playMu.Lock()
	defer playMu.Unlock()

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

// Chimer returns a Chime bound to path, or nil when path is empty.
func Chimer(path string) func() error {
	if path == "" {
		return nil
	}
	return func() error { return Chime(path) }
}
