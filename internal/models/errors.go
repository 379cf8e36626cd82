package models

import "errors"

var (
	// ErrSourceAccessDenied indicates the local calendar source refused access.
	ErrSourceAccessDenied = errors.New("calendar access denied")

	// ErrRemoteUnreachable indicates the remote store could not be reached or
	// is misconfigured.
	ErrRemoteUnreachable = errors.New("remote store unreachable")

	// ErrRecordUpsertFailed is reported per record when an upload fails.
	ErrRecordUpsertFailed = errors.New("record upload failed")

	// ErrRecordDeleteFailed is reported per record when a delete fails. It is
	// logged, never surfaced.
	ErrRecordDeleteFailed = errors.New("record delete failed")

	// ErrSessionFull indicates the session already has its maximum number of owners.
	ErrSessionFull = errors.New("session is full")

	// ErrMalformedRemoteRecord indicates a fetched document lacks required fields.
	ErrMalformedRemoteRecord = errors.New("malformed remote record")
)
