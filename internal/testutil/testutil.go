// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/banshee-data/picar.autonav/internal/config"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Messages returns every message the hook captured, oldest first.
func Messages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

// EntriesWithMessage returns the captured entries whose message is msg.
func EntriesWithMessage(hook *test.Hook, msg string) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// CountMessage reports how many captured entries have message msg.
func CountMessage(hook *test.Hook, msg string) int {
	return len(EntriesWithMessage(hook, msg))
}

// FastSettings returns the default settings with every hold and delay cut
// to a millisecond, for tests that run the decision loop on a real clock.
func FastSettings() config.Settings {
	s := config.DefaultSettings()
	s.StopSettle = time.Millisecond
	s.StopPause = time.Millisecond
	s.ForwardHold = time.Millisecond
	s.RecoveryHold = time.Millisecond
	s.BackwardHold = time.Millisecond
	s.CycleDelay = time.Millisecond
	s.SweepStepDelay = time.Millisecond
	return s
}

// LoopbackRequest creates a test request that appears to come from
// localhost, which tsweb requires for /debug/ routes.
func LoopbackRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}
