package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeLabel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "news", "news"},
		{"mixed case", "NewsSpider", "newsspider"},
		{"punctuation kept", "site-a.v2_x", "site-a.v2_x"},
		{"spaces and symbols dropped", " news / {id} ", "newsid"},
		{"empty string", "", "unknown"},
		{"only symbols", "%%%", "unknown"},
		{"truncated", strings.Repeat("a", 100), strings.Repeat("a", maxLabelLen)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeLabel(tc.input); got != tc.expected {
				t.Errorf("SanitizeLabel(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		enqueueTotal == nil || activeWorkers == nil || rateLimitDelaysSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveEnqueue("News", "accepted")
	if val := testutil.ToFloat64(enqueueTotal.WithLabelValues("news", "accepted")); val != 1 {
		t.Errorf("Expected enqueue counter to be 1, got %f", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != 1 {
		t.Errorf("Expected active workers to be 1, got %f", val)
	}
	DecActiveWorkers()

	ObserveExpired(0)
	ObserveExpired(3)
	if val := testutil.ToFloat64(expiredRecordsTotal); val != 3 {
		t.Errorf("Expected expired records to be 3, got %f", val)
	}

	ObserveRateLimitDelay("discord", 250*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val != 1 {
		t.Errorf("Expected one rate limit series, got %d", val)
	}
}

func FuzzSanitizeLabel(f *testing.F) {
	for _, tc := range []string{"news", "NEWS spider", "ünïcode", ""} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		got := SanitizeLabel(orig)
		if got == "" || len(got) > maxLabelLen {
			t.Errorf("SanitizeLabel(%q) = %q", orig, got)
		}
	})
}
