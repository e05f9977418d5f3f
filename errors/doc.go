// Package errors provides the error classification and wrapping conventions shared by
// every component of the bridge.
//
// # Classification
//
// Every error returned across a package boundary is either one of the sentinels
// declared here, a wrapped sentinel, or a ClassifiedError produced by one of the
// Wrap helpers:
//
//	if err := fetcher.FetchEnvironment(ctx, svc); err != nil {
//	    return errors.WrapTransient(err, "Synchronizer", "SynchronizeService", "fetch environment")
//	}
//
// Remote I/O failures are transient and isolated per service. Missing access URLs
// and bad configuration are fatal. Malformed payloads are invalid and never retried.
//
// Negotiation failures surface as ErrNegotiationRejected, ErrNegotiationTimeout or
// ErrNegotiationTerminated so callers can branch with errors.Is.
package errors
