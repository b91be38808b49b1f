// ABOUTME: Tests for barcode scan classification
// ABOUTME: Drives the classifier with synthetic keystroke timestamps

package scan

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/catalogops/internal/metrics"
)

type recorder struct {
	mu    sync.Mutex
	codes []string
	errs  []error
}

func (r *recorder) onCode(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.codes...)
}

func setupTestClassifier(t *testing.T) (*Classifier, *recorder) {
	rec := &recorder{}
	c := NewClassifier(DefaultConfig(), rec.onCode, rec.onError)
	t.Cleanup(c.Close)
	return c, rec
}

// feed sends keys with the given offsets in milliseconds from base
func feed(c *Classifier, base time.Time, keys []string, offsets []int) {
	for i, k := range keys {
		c.Feed(k, base.Add(time.Duration(offsets[i])*time.Millisecond))
	}
}

func TestScanBurstEmitsCode(t *testing.T) {
	c, rec := setupTestClassifier(t)
	base := time.Now()

	feed(c, base, []string{"A", "1", "2", "3", "Enter"}, []int{0, 10, 20, 30, 40})

	codes := rec.snapshot()
	if len(codes) != 1 || codes[0] != "A123" {
		t.Fatalf("Expected code A123, got %v", codes)
	}
	if c.Pending() != "" {
		t.Errorf("Expected empty buffer after emission, got %q", c.Pending())
	}
}

func TestScanGapRestartsAccumulation(t *testing.T) {
	c, rec := setupTestClassifier(t)
	base := time.Now()

	// 200ms pause after "1" drops the "A1" fragment
	feed(c, base, []string{"A", "1", "2", "3", "Enter"}, []int{0, 10, 210, 220, 230})

	if codes := rec.snapshot(); len(codes) != 0 {
		t.Fatalf("Expected no code, got %v", codes)
	}

	feed(c, base, []string{"A", "1", "2", "3", "4", "Enter"}, []int{1000, 1010, 1210, 1220, 1230, 1240})

	codes := rec.snapshot()
	if len(codes) != 1 || codes[0] != "234" {
		t.Fatalf("Expected accumulation to restart at 2, got %v", codes)
	}
}

func TestShortBurstIgnored(t *testing.T) {
	c, rec := setupTestClassifier(t)
	base := time.Now()

	feed(c, base, []string{"4", "2", "Enter"}, []int{0, 5, 10})

	if codes := rec.snapshot(); len(codes) != 0 {
		t.Fatalf("Expected no code for short burst, got %v", codes)
	}
}

func TestManualTypingNeverEmits(t *testing.T) {
	c, rec := setupTestClassifier(t)
	base := time.Now()

	// 120ms between keys is human speed
	feed(c, base, []string{"h", "e", "l", "l", "o", "Enter"}, []int{0, 120, 240, 360, 480, 600})

	if codes := rec.snapshot(); len(codes) != 0 {
		t.Fatalf("Expected no code for typing, got %v", codes)
	}
}

func TestModifierKeysIgnored(t *testing.T) {
	c, rec := setupTestClassifier(t)
	base := time.Now()

	feed(c, base,
		[]string{"Shift", "A", "Shift", "B", "9", "Enter"},
		[]int{0, 5, 10, 15, 20, 25},
	)

	codes := rec.snapshot()
	if len(codes) != 1 || codes[0] != "AB9" {
		t.Fatalf("Expected code AB9, got %v", codes)
	}
}

func TestCarriageReturnTerminates(t *testing.T) {
	c, rec := setupTestClassifier(t)
	base := time.Now()

	feed(c, base, []string{"9", "9", "1", "\r"}, []int{0, 1, 2, 3})

	codes := rec.snapshot()
	if len(codes) != 1 || codes[0] != "991" {
		t.Fatalf("Expected code 991, got %v", codes)
	}
}

func TestIdleTimeoutDiscardsSilently(t *testing.T) {
	rec := &recorder{}
	m := metrics.Discard()
	c := NewClassifier(Config{IdleTimeout: 20 * time.Millisecond}, rec.onCode, rec.onError, WithMetrics(m))
	defer c.Close()

	now := time.Now()
	c.Feed("A", now)
	c.Feed("B", now.Add(time.Millisecond))

	deadline := time.Now().Add(time.Second)
	for c.Pending() != "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if c.Pending() != "" {
		t.Fatalf("Expected buffer to be discarded, got %q", c.Pending())
	}
	if len(rec.errs) != 0 {
		t.Errorf("Timeout must not be reported as an error, got %v", rec.errs)
	}
	if got := testutil.ToFloat64(m.ScansDiscardedTotal.WithLabelValues("timeout")); got != 1 {
		t.Errorf("Expected 1 timeout discard, got %v", got)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, recA := setupTestClassifier(t)
	b, recB := setupTestClassifier(t)
	base := time.Now()

	feed(a, base, []string{"1", "2"}, []int{0, 5})
	feed(b, base, []string{"9", "8", "7", "Enter"}, []int{0, 5, 10, 15})
	feed(a, base, []string{"3", "Enter"}, []int{10, 15})

	if codes := recA.snapshot(); len(codes) != 1 || codes[0] != "123" {
		t.Errorf("Classifier a: expected 123, got %v", codes)
	}
	if codes := recB.snapshot(); len(codes) != 1 || codes[0] != "987" {
		t.Errorf("Classifier b: expected 987, got %v", codes)
	}
}

func TestPanickingHandlerReportsError(t *testing.T) {
	var got error
	c := NewClassifier(DefaultConfig(),
		func(string) { panic("boom") },
		func(err error) { got = err },
	)
	defer c.Close()

	base := time.Now()
	feed(c, base, []string{"1", "2", "3", "Enter"}, []int{0, 1, 2, 3})

	if got == nil {
		t.Fatal("Expected onError to receive the handler panic")
	}
	if !strings.Contains(got.Error(), "boom") {
		t.Errorf("Expected panic value in error, got %v", got)
	}
}

func TestClosedClassifierIgnoresInput(t *testing.T) {
	c, rec := setupTestClassifier(t)
	c.Close()

	base := time.Now()
	feed(c, base, []string{"1", "2", "3", "Enter"}, []int{0, 1, 2, 3})

	if codes := rec.snapshot(); len(codes) != 0 {
		t.Fatalf("Expected no codes after Close, got %v", codes)
	}
}
