// Package sources adapts external air quality APIs to a single fetch interface.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Window is the half-open observation interval [From, To) a fetch asks for
type Window struct {
	From time.Time
	To   time.Time
}

// Source fetches raw readings for a set of locations
type Source interface {
	Name() string
	Fetch(ctx context.Context, locations []models.Location, window Window) ([]models.RawReading, error)
}

// ErrorKind classifies source failures
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindMalformed   ErrorKind = "malformed"
	KindEmpty       ErrorKind = "empty"
	KindUnavailable ErrorKind = "unavailable"
)

// Error is a source-level failure. Every kind makes the pipeline fall back
// to the next source.
type Error struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a source error, or KindUnavailable for anything else
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnavailable
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// transportError classifies a failed HTTP round trip
func transportError(source string, err error) *Error {
	if isTimeout(err) {
		return &Error{Source: source, Kind: KindTimeout, Err: err}
	}
	return &Error{Source: source, Kind: KindUnavailable, Err: err}
}

// statusError classifies a non-2xx HTTP status
func statusError(source string, status int, body string) *Error {
	if len(body) > 200 {
		body = body[:200]
	}
	err := fmt.Errorf("HTTP %d: %s", status, body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Source: source, Kind: KindAuth, Err: err}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return &Error{Source: source, Kind: KindTimeout, Err: err}
	}
	return &Error{Source: source, Kind: KindUnavailable, Err: err}
}
