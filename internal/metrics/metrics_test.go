package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://dgcmef.gov.bf/path", "dgcmef.gov.bf"},
		{"standard https", "https://Joffres.net/offres", "joffres.net"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchTotal == nil || stageDurationSeconds == nil || duplicatesTotal == nil || oracleCallsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveFetch("https://metrics-test.example/a", "ok", 10)
	if val := testutil.ToFloat64(fetchTotal.WithLabelValues("metrics-test.example", "ok")); val != 1 {
		t.Errorf("expected fetch counter 1, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test.example")); val != 10 {
		t.Errorf("expected bytes counter 10, got %f", val)
	}

	ObserveDuplicate("metrics-test")
	if val := testutil.ToFloat64(duplicatesTotal.WithLabelValues("metrics-test")); val != 1 {
		t.Errorf("expected duplicate counter 1, got %f", val)
	}

	ObserveOracleCall("metrics-test", errors.New("boom"))
	if val := testutil.ToFloat64(oracleCallsTotal.WithLabelValues("metrics-test", "error")); val != 1 {
		t.Errorf("expected oracle error counter 1, got %f", val)
	}

	ObserveNotices("metrics-test", 0)
	ObserveNotices("metrics-test", 3)
	if val := testutil.ToFloat64(noticesTotal.WithLabelValues("metrics-test")); val != 3 {
		t.Errorf("expected notices counter 3, got %f", val)
	}

	ObserveStage("metrics-test", 20*time.Millisecond)
	if val := testutil.CollectAndCount(stageDurationSeconds); val <= 0 {
		t.Errorf("expected stage histogram to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://joffres.net", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
