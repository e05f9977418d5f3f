// Package retry runs an operation with exponential backoff.
//
// An error stops the loop early when it is wrapped with NonRetryable or is
// classified invalid or fatal by the errors package; everything else is
// retried until the attempts run out or the context ends.
//
//	catalog, err := retry.DoWithResult(ctx, retry.Quick(), func() (*Catalog, error) {
//		return fetch(ctx)
//	})
package retry
