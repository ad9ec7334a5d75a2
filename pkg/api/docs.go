// Package api provides the indexer's control and query HTTP surface:
// liveness, readiness, per-chain status, Prometheus metrics, an optional
// read-only SQL proxy, and whatever routes a caller mounts alongside them.
package api
