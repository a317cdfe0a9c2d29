//go:build !espeak

package tts

import log "log/slog"

const Enabled = false

func speak(text string) error {
	log.Info("[tts dry-run]", "text", text)
	return nil
}
