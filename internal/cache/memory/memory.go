// Package memory provides in-process implementations of the domain cache
// interfaces for single-instance deployments running without Redis. They
// carry the same semantics as the redis package but none of the state
// survives a restart.
package memory
