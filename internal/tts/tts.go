package tts

import (
	"strings"
	"sync"
)

// espeak keeps global state; calls must not overlap
var mu sync.Mutex

// Speak says text aloud and blocks until done. Empty text is a no-op.
func Speak(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	return speak(text)
}
