// Package crawler implements opportunity discovery and verification: the
// politeness controller, robots cache, fetch client, and the Discover, Verify,
// and Reaper workflows that keep stored opportunities current.
package crawler
