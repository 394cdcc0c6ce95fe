package models

import "errors"

var (
	// ErrDiscovery means no reachable bridge could be found.
	ErrDiscovery = errors.New("bridge discovery failed")
	// ErrRequest is a transport-level failure talking to the bridge.
	ErrRequest = errors.New("request failed")
	// ErrParse is a malformed response body.
	ErrParse = errors.New("parse failed")
	// ErrStorage means the backend could not attempt a read or write.
	ErrStorage = errors.New("storage unavailable")
)
