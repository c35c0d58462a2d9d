package store

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrNoSession is returned when a liveness write targets a user with no
	// presence record.
	ErrNoSession = errors.New("no active presence session")

	// ErrPermissionDenied marks writes rejected by backend access rules.
	ErrPermissionDenied = errors.New("permission denied")
)

// IsPermissionDenied reports whether err stems from a backend rejecting the
// write for lack of permission. Retrying will not help.
func IsPermissionDenied(err error) bool {
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "noperm")
}

// IsUnavailable reports whether err looks like the backend being unreachable
// or timing out, i.e. worth retrying later.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
