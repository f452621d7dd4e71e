package models

import "errors"

// Error kinds shared across the ingestion, detection and reputation stages.
var (
	ErrParseFailure        = errors.New("parse failure")
	ErrEncodingFailure     = errors.New("encoding failure")
	ErrChannelDisconnected = errors.New("loader channel disconnected")
	ErrStoreQuery          = errors.New("store query failure")
	ErrReputationLookup    = errors.New("reputation lookup failure")
	ErrSessionFailed       = errors.New("load session failed")
	ErrUnterminatedStream  = errors.New("frame stream closed before end-of-stream")
)
