// Package tcp implements the TCP transport of the cluster client and the
// development nodes on top of the base package.
//
// Socket buffer sizes, Nagle's algorithm, keep-alive and linger are applied
// from the SocketConf and TCPConf sections of the client and server
// configuration. Server read buffers default to 512 KB.
package tcp
