package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/adw/notify"
)

func TestFingerprintStableWithinBucket(t *testing.T) {
	msg := notify.NewMessage(notify.TypeStatusUpdate, notify.StatusUpdate{
		RunID:   "abc12345",
		Phase:   "build",
		Status:  "running",
		Message: "implementing plan",
	})
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	fp1 := fingerprint(msg, base)
	fp2 := fingerprint(msg, base.Add(2*time.Second))
	fp3 := fingerprint(msg, base.Add(7*time.Second))

	assert.Equal(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	now := time.Now()
	a := fingerprint(notify.NewMessage(notify.TypeStatusUpdate, notify.StatusUpdate{
		RunID: "abc12345", Status: "running",
	}), now)
	b := fingerprint(notify.NewMessage(notify.TypeStatusUpdate, notify.StatusUpdate{
		RunID: "abc12345", Status: "completed",
	}), now)
	c := fingerprint(notify.NewMessage(notify.TypeWorkflowLog, notify.WorkflowLog{
		RunID: "abc12345", Level: "info", Message: "hello",
	}), now)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintTruncatesLongMessages(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	now := time.Now()
	a := fingerprint(notify.NewMessage(notify.TypeWorkflowLog, notify.WorkflowLog{
		RunID: "abc12345", Message: string(long) + "tail-one",
	}), now)
	b := fingerprint(notify.NewMessage(notify.TypeWorkflowLog, notify.WorkflowLog{
		RunID: "abc12345", Message: string(long) + "tail-two",
	}), now)

	// Only the head of the message participates, so a differing tail
	// still collapses.
	assert.Equal(t, a, b)
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	w := newDedupWindow()
	assert.False(t, w.observe("fp-1"))
	assert.True(t, w.observe("fp-1"))
	assert.False(t, w.observe("fp-2"))
	assert.True(t, w.observe("fp-1"))
}

func TestDedupWindowEvictsOldest(t *testing.T) {
	w := newDedupWindow()
	for i := 0; i < fingerprintWindow+1; i++ {
		assert.False(t, w.observe(string(rune('a'+i%26))+string(rune('0'+i/26))))
	}
	// The first fingerprint fell out of the window and counts as new.
	assert.False(t, w.observe("a0"))
}

func TestDedupWindowIgnoresEmpty(t *testing.T) {
	w := newDedupWindow()
	assert.False(t, w.observe(""))
	assert.False(t, w.observe(""))
}
