// Package events carries discovery, value, delivery and session
// notifications from gateway sessions to their consumers over typed,
// non-blocking broadcast buses.
package events
