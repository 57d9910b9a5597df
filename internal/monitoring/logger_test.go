package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})
	Logf("value=%d", 7)
	if captured != "value=7" {
		t.Errorf("expected captured log, got %q", captured)
	}

	// nil installs a no-op logger rather than panicking.
	SetLogger(nil)
	Logf("dropped %s", "silently")
}
