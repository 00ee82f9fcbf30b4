package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/adw/notify"
)

// fingerprintWindow is how many recent fingerprints each session
// remembers for suppression.
const fingerprintWindow = 64

// fingerprintBucket quantizes timestamps so near-simultaneous
// duplicates from different emitters collapse.
const fingerprintBucket = 5 * time.Second

// fingerprintFields are the key fields that identify a broadcast's
// content independent of emitter.
type fingerprintFields struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	Level       string `json:"level"`
	CurrentStep string `json:"current_step"`
	Message     string `json:"message"`
	Progress    int    `json:"progress"`
}

// fingerprint derives a content fingerprint for msg at time now.
// Messages without data (pong, error) get an empty fingerprint and are
// never deduplicated.
func fingerprint(msg notify.Message, now time.Time) string {
	if len(msg.Data) == 0 {
		return ""
	}
	var f fingerprintFields
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		return ""
	}
	head := f.Message
	if len(head) > 64 {
		head = head[:64]
	}
	bucket := now.Truncate(fingerprintBucket).Unix()
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s|%d",
		msg.Type, f.RunID, f.Status, f.Level, f.CurrentStep, f.Progress, head, bucket)
}

// dedupWindow is a fixed-size FIFO set of recent fingerprints.
// Not goroutine-safe; each session owns one and consults it only from
// its sender task.
type dedupWindow struct {
	order []string
	seen  map[string]struct{}
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{seen: make(map[string]struct{}, fingerprintWindow)}
}

// observe reports whether fp was already in the window, inserting it
// if not. Empty fingerprints are never suppressed.
func (w *dedupWindow) observe(fp string) (duplicate bool) {
	if fp == "" {
		return false
	}
	if _, ok := w.seen[fp]; ok {
		return true
	}
	w.seen[fp] = struct{}{}
	w.order = append(w.order, fp)
	if len(w.order) > fingerprintWindow {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	return false
}
