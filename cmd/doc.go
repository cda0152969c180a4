// Package cmd implements the command-line interface of cKV. It provides a
// hierarchical command structure for running a local development cluster and
// for talking to a cluster as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key operations (get, set, del, ttl) and the perf benchmark
//   - cluster: Commands to inspect the slot layout and the nodes (shards, info, keyslot, ...)
//   - lock: Commands for distributed locks (acquire, hold, run, status)
//   - serve: Starts an in-process development cluster
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable CKV_<FLAG>, .env and
// .env.local files are loaded on start.
//
// See ckv -help for a list of all commands.
package cmd
