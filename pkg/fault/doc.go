// Package fault implements partition fault detection and recovery for
// a distributed spatial-index cluster: a concurrent status classifier,
// an in-flight operation barrier, a retry-capable recovery coordinator,
// and three pluggable recovery strategies. All timestamps flow through
// an injected Clock, so the whole subsystem is deterministic under test.
package fault
