// Package unix implements a transport over Unix domain sockets for nodes
// running on the same machine as the client. Node addresses are socket paths.
// Server read buffers default to 64 KB.
package unix
