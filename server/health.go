package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/shutdown"
)

// ErrShuttingDown is reported by the readiness check once draining starts.
var ErrShuttingDown = errors.Unavailable("shutting down")

// Checker wraps the CheckHealth method.
//
// CheckHealth returns nil if the resource is ready, or an error describing
// why it is not. It must be safe to call from multiple goroutines.
type Checker interface {
	CheckHealth() error
}

// CheckerFunc adapts an ordinary function to a Checker.
type CheckerFunc func() error

// CheckHealth calls f().
func (f CheckerFunc) CheckHealth() error {
	return f()
}

// GateChecker fails once the gate reports shutdown.
func GateChecker(g shutdown.Gate) Checker {
	return CheckerFunc(func() error {
		if g.IsShuttingDown() {
			return ErrShuttingDown
		}
		return nil
	})
}

// Readiness reports on an aggregate of Checkers. The zero value is always
// ready.
type Readiness struct {
	checkers []Checker
}

// Add adds a check.
func (h *Readiness) Add(c Checker) {
	h.checkers = append(h.checkers, c)
}

// ServeHTTP returns 200 ok when every check passes, otherwise 503 with the
// first failure's message.
func (h *Readiness) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	for _, c := range h.checkers {
		if err := c.CheckHealth(); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeStatus(w, http.StatusOK, "ok")
}

// HandleLive answers liveness checks: the process is up as long as it
// answers.
func HandleLive(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
