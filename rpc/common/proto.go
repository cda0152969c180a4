package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key    string   `json:"key,omitempty"`    // Used for: all keyed commands, ClusterKeySlot
	Value  []byte   `json:"value,omitempty"`  // Used for: Set (request), Get (response)
	TTL    int64    `json:"ttl,omitempty"`    // Milliseconds. Used for: Set, SetIfAbsent, PExpire (request), PTTL (response)
	Args   [][]byte `json:"args,omitempty"`   // Used for: EvalSha arguments, Auth credentials
	Script string   `json:"script,omitempty"` // Used for: ScriptLoad (source), EvalSha (digest)
	Int    int64    `json:"int,omitempty"`    // Used for: slot arguments, integer replies
	Count  int64    `json:"count,omitempty"`  // Used for: ClusterGetKeys

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Get, SetIfAbsent, Delete, PExpire responses
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta holds json encoded structured replies (shards, links, keys, ...)
	Meta []byte `json:"meta,omitempty"`
}

// AsError returns the error carried by a response, or nil.
// Redirect replies are errors on the wire too, callers that follow redirects
// must check ParseRedirect first.
func (m *Message) AsError() error {
	if m.MsgType == MsgTError || m.Err != "" {
		return &ServerError{Msg: m.Err}
	}
	return nil
}

// Keyed reports whether the slot of the message is determined by its key
func (m *Message) Keyed() bool {
	switch m.MsgType {
	case MsgTGet, MsgTSet, MsgTSetIfAbsent, MsgTDelete, MsgTPExpire, MsgTPTTL, MsgTEvalSha:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Request Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTGet, Key: key}
}

// NewSetRequest creates a new Set request. A ttl of zero means no expiry.
func NewSetRequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTSet, Key: key, Value: value, TTL: ttl.Milliseconds()}
}

// NewSetIfAbsentRequest creates a request that sets the key only if it does not
// exist yet. A ttl of zero means no expiry.
func NewSetIfAbsentRequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTSetIfAbsent, Key: key, Value: value, TTL: ttl.Milliseconds()}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTDelete, Key: key}
}

// NewPExpireRequest creates a request that sets the expiry of a key
func NewPExpireRequest(key string, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTPExpire, Key: key, TTL: ttl.Milliseconds()}
}

// NewPTTLRequest creates a request for the remaining time to live of a key
func NewPTTLRequest(key string) *Message {
	return &Message{MsgType: MsgTPTTL, Key: key}
}

// NewScriptLoadRequest creates a request that registers a script on a node
func NewScriptLoadRequest(source string) *Message {
	return &Message{MsgType: MsgTScriptLoad, Script: source}
}

// NewEvalShaRequest creates a request that evaluates a registered script on key
func NewEvalShaRequest(sha, key string, args ...[]byte) *Message {
	return &Message{MsgType: MsgTEvalSha, Script: sha, Key: key, Args: args}
}

// NewAskingRequest creates the notice that must precede a request following an ASK redirect
func NewAskingRequest() *Message {
	return &Message{MsgType: MsgTAsking}
}

// NewAuthRequest creates a new Auth request
func NewAuthRequest(username, password string) *Message {
	return &Message{MsgType: MsgTAuth, Args: [][]byte{[]byte(username), []byte(password)}}
}

// NewClusterShardsRequest creates a request for the shard list of the cluster
func NewClusterShardsRequest() *Message {
	return &Message{MsgType: MsgTClusterShards}
}

// NewClusterInfoRequest creates a request for the cluster state fields of a node
func NewClusterInfoRequest() *Message {
	return &Message{MsgType: MsgTClusterInfo}
}

// NewClusterKeySlotRequest asks a node which slot a key belongs to
func NewClusterKeySlotRequest(key string) *Message {
	return &Message{MsgType: MsgTClusterKeySlot, Key: key}
}

// NewClusterCountKeysRequest asks how many keys occupy a slot
func NewClusterCountKeysRequest(slot uint16) *Message {
	return &Message{MsgType: MsgTClusterCountKeys, Int: int64(slot)}
}

// NewClusterGetKeysRequest asks for up to count keys of a slot
func NewClusterGetKeysRequest(slot uint16, count int) *Message {
	return &Message{MsgType: MsgTClusterGetKeys, Int: int64(slot), Count: int64(count)}
}

// NewClusterLinksRequest asks a node for the status of its cluster bus links
func NewClusterLinksRequest() *Message {
	return &Message{MsgType: MsgTClusterLinks}
}

// NewClusterMyIDRequest asks a node for its id
func NewClusterMyIDRequest() *Message {
	return &Message{MsgType: MsgTClusterMyID}
}

// NewClusterReplicasRequest asks for the replicas of a primary
func NewClusterReplicasRequest(nodeID string) *Message {
	return &Message{MsgType: MsgTClusterReplicas, Key: nodeID}
}

// --------------------------------------------------------------------------
// Response Factory Functions
// --------------------------------------------------------------------------

// NewOkResponse creates a response with Ok set
func NewOkResponse(t MessageType, ok bool) *Message {
	return &Message{MsgType: t, Ok: ok}
}

// NewValueResponse creates a response carrying a value
func NewValueResponse(t MessageType, value []byte, ok bool) *Message {
	return &Message{MsgType: t, Value: value, Ok: ok}
}

// NewIntResponse creates a response carrying an integer
func NewIntResponse(t MessageType, n int64) *Message {
	return &Message{MsgType: t, Int: n, Ok: true}
}

// NewTTLResponse creates a PTTL response. Negative values follow the usual
// convention: -1 no expiry, -2 no such key.
func NewTTLResponse(ttl int64) *Message {
	return &Message{MsgType: MsgTPTTL, TTL: ttl, Ok: ttl != -2}
}

// NewPayloadResponse creates a response with a json encoded structured payload
func NewPayloadResponse(t MessageType, payload any) *Message {
	meta, err := json.Marshal(payload)
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("ERR failed to encode reply: %s", err))
	}
	return &Message{MsgType: t, Meta: meta, Ok: true}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// DecodePayload decodes the structured payload of a response into T
func DecodePayload[T any](msg *Message) (T, error) {
	var v T
	if len(msg.Meta) == 0 {
		return v, fmt.Errorf("%s reply carries no payload", msg.MsgType)
	}
	if err := json.Unmarshal(msg.Meta, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s reply: %w", msg.MsgType, err)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:          "success",
	MsgTError:            "error",
	MsgTGet:              "get",
	MsgTSet:              "set",
	MsgTSetIfAbsent:      "setIfAbsent",
	MsgTDelete:           "delete",
	MsgTPExpire:          "pexpire",
	MsgTPTTL:             "pttl",
	MsgTScriptLoad:       "scriptLoad",
	MsgTEvalSha:          "evalSha",
	MsgTAsking:           "asking",
	MsgTAuth:             "auth",
	MsgTClusterShards:    "clusterShards",
	MsgTClusterInfo:      "clusterInfo",
	MsgTClusterKeySlot:   "clusterKeySlot",
	MsgTClusterCountKeys: "clusterCountKeys",
	MsgTClusterGetKeys:   "clusterGetKeys",
	MsgTClusterLinks:     "clusterLinks",
	MsgTClusterMyID:      "clusterMyId",
	MsgTClusterReplicas:  "clusterReplicas",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Keyed operations

	MsgTGet         // Get a value by key
	MsgTSet         // Set a key-value pair, optionally with expiry
	MsgTSetIfAbsent // Set a key-value pair with expiry if not already set
	MsgTDelete      // Delete a key-value pair
	MsgTPExpire     // Set the expiry of a key
	MsgTPTTL        // Remaining time to live of a key

	// Scripting

	MsgTScriptLoad // Register a script
	MsgTEvalSha    // Evaluate a registered script

	// Connection

	MsgTAsking // One-shot redirect notice
	MsgTAuth   // Authenticate the connection

	// Cluster introspection

	MsgTClusterShards    // Shard list with slot ranges and nodes
	MsgTClusterInfo      // Cluster state fields
	MsgTClusterKeySlot   // Slot of a key
	MsgTClusterCountKeys // Number of keys in a slot
	MsgTClusterGetKeys   // Keys of a slot
	MsgTClusterLinks     // Cluster bus link status
	MsgTClusterMyID      // Id of the node
	MsgTClusterReplicas  // Replicas of a primary
)
