// Package handler provides the error-returning HTTP handler shape shared by
// every HTTP surface, plus the typed error its middleware understands.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/peerhub/peerhub/utils/log"
)

// Error carries an HTTP status and optional headers alongside the message.
type Error struct {
	status int
	header http.Header
	msg    string
}

// Errorf creates an Error with Printf-style formatting. Status defaults
// to 500.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		status: http.StatusInternalServerError,
		header: http.Header{},
		msg:    fmt.Sprintf(format, args...),
	}
}

// ErrorStatus creates a message-less Error with status s.
func ErrorStatus(s int) *Error {
	return Errorf("").Status(s)
}

// Status sets a custom status on e.
func (e *Error) Status(s int) *Error {
	e.status = s
	return e
}

// Header adds a response header to e.
func (e *Error) Header(k, v string) *Error {
	e.header.Add(k, v)
	return e
}

// GetStatus returns the error status.
func (e *Error) GetStatus() int {
	return e.status
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("server error %d", e.status)
	}
	return fmt.Sprintf("server error %d: %s", e.status, e.msg)
}

// ErrHandler defines an HTTP handler which returns an error.
type ErrHandler func(http.ResponseWriter, *http.Request) error

// Wrap converts an ErrHandler into an http.HandlerFunc. Returned errors are
// written as a JSON error body; 5xx and auth failures are logged.
func Wrap(h ErrHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status := http.StatusInternalServerError
		msg := err.Error()
		if e, ok := err.(*Error); ok {
			for k, vs := range e.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			status = e.status
			msg = e.msg
		}
		writeError(w, status, msg)
		if status >= 400 && status != http.StatusNotFound {
			log.Infof("%d %s %s %s", status, r.Method, r.URL.Path, msg)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// EncodeJSON writes v to w as a JSON body.
func EncodeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return Errorf("encode response: %s", err)
	}
	return nil
}
