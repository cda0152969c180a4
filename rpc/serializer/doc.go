// Package serializer converts Messages to frames and back. Client and nodes
// must use the same serializer.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. Two flag bytes mark the
//     present fields so empty fields cost nothing. This is the default of the CLI.
//
//   - jsonSerializerImpl: JSON with message types written by name. Useful for
//     debugging.
//
//   - gobSerializerImpl: Go's gob encoding with pooled buffers. Every frame
//     repeats the type description, so frames are the largest of the three.
//
// Replies that carry structured data (ClusterShards, ClusterLinks, ...) keep
// their payload as JSON inside Message.Meta regardless of the serializer, so
// payload decoding does not depend on the frame format.
//
// Thread Safety:
//
//	All serializer implementations are safe for concurrent use across
//	multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewGetRequest("foo"))
//	// ... send data ...
//	var reply common.Message
//	err = s.Deserialize(receivedData, &reply)
package serializer
