// Package health tracks the health of the bridge's parts and rolls them up
// into one status.
//
// Parts report through a Monitor, either directly with Update or through
// checks the Monitor runs periodically. Messages derived from errors are
// sanitized so URLs, paths, addresses and credentials never leave the
// process through a health endpoint.
package health
