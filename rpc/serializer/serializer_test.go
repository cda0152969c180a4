package serializer

import (
	"github.com/ValentinKolb/cKV/rpc/common"
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Set-if-absent request with expiry
		{
			MsgType: common.MsgTSetIfAbsent,
			Key:     "lock:orders",
			Value:   []byte("6f1c8a"),
			TTL:     10000,
		},

		// Get response
		{
			MsgType: common.MsgTGet,
			Value:   []byte("test-value"),
			Ok:      true,
		},

		// PTTL response for a key without expiry (negative integers)
		{
			MsgType: common.MsgTPTTL,
			TTL:     -1,
			Ok:      true,
		},

		// Redirect
		*common.NewMovedResponse(3999, "127.0.0.1:7001"),

		// Script evaluation with arguments
		{
			MsgType: common.MsgTEvalSha,
			Script:  common.ScriptSHA(common.ScriptCompareAndExtend),
			Key:     "lock:orders",
			Args:    [][]byte{[]byte("6f1c8a"), []byte("10000")},
		},

		// Slot query with count
		{
			MsgType: common.MsgTClusterGetKeys,
			Int:     12182,
			Count:   10,
		},

		// Structured reply
		*common.NewPayloadResponse(common.MsgTClusterShards, []common.ShardInfo{{
			Slots: [][2]int{{0, 16383}},
			Nodes: []common.NodeInfo{{ID: "n1", Host: "localhost", Port: 7000, Role: "primary"}},
		}}),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestRedirectSurvivesSerialization checks that every codec keeps redirects parseable
func TestRedirectSurvivesSerialization(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.Serialize(*common.NewAskResponse(42, "10.0.0.1:7002"))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			rd, ok := common.ParseRedirect(&result)
			if !ok || rd.Kind != common.RedirectAsk || rd.Slot != 42 || rd.Addr != "10.0.0.1:7002" {
				t.Errorf("Unexpected redirect after round trip: %+v (ok=%v)", rd, ok)
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTSet,
				Key:     "test",
				Value:   []byte{},
			},
		},
		{
			name: "Empty args with one empty argument",
			msg: common.Message{
				MsgType: common.MsgTEvalSha,
				Args:    [][]byte{{}},
			},
		},
		{
			name: "Negative integers",
			msg: common.Message{
				MsgType: common.MsgTPTTL,
				TTL:     -2,
				Int:     -1,
			},
		},
		{
			name: "Empty meta slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTClusterInfo,
				Meta:    []byte{},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// The binary format keeps the nil/empty distinction, so DeepEqual must hold
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Mismatch after round trip:\nOriginal: %+v\nResult: %+v", tc.msg, result)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half of the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 2, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Truncated integer",
			data:        []byte{1, 0, 4, 0, 0, 0}, // TTL flag with 3 bytes
			expectError: true,
		},
		{
			name:        "Args count larger than data",
			data:        []byte{1, 0, 8, 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
