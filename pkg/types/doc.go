/*
Package types defines the core data structures shared across flockd:
flock specifications, flock requests, launch responses and the error
taxonomy returned by the engine and pool layers.

A FlockSpec is an immutable template loaded at startup by pkg/specstore.
A FlockRequest is the mutable, persisted record of one instance of a
spec; it is serialised to JSON and stored in pkg/coordstore under
"req:<reqid>". A LaunchResponse is the cached result of materialising a
request, stored alongside the request and returned unchanged by
subsequent idempotent starts.
*/
package types
