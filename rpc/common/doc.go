// Package common provides the wire protocol, configuration structures and
// logging shared by the ckv client core, the transports and the development
// cluster nodes.
//
// The package focuses on:
//   - Message protocol definition for requests and replies
//   - Redirect signals (MOVED/ASK) decoded into a tagged Redirect value
//   - Structured reply payloads (shards, nodes, links, read-only fields)
//   - The script catalog of the atomic lock strategy
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Includes factory
//     methods for every request and response kind.
//
//   - ParseRedirect: Inspects a reply and returns the redirect it carries. The
//     router calls it on every reply before handing the reply to the caller, so
//     redirects never unwind past the router as errors.
//
//   - ServerError: Non redirect error replies, classified by Prefix().
//
//   - ClientConfig / ServerConfig: Configuration of the cluster client and the
//     development cluster, with String() printers for the CLI.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
