package common

import (
	"encoding/json"
	"net"
	"sort"
	"strconv"
)

// --------------------------------------------------------------------------
// Structured replies (encoded into Message.Meta)
// --------------------------------------------------------------------------

// NodeInfo describes one node of a shard as reported by ClusterShards
type NodeInfo struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Role      string `json:"role"` // "primary" or "replica"
	PrimaryID string `json:"primary_id,omitempty"`
	Health    string `json:"health,omitempty"`
}

// Addr returns host:port of the node. Nodes without a port listen on a unix
// socket and Host is the socket path.
func (n NodeInfo) Addr() string {
	if n.Port == 0 {
		return n.Host
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// ShardInfo is one entry of the ClusterShards reply. Slots holds inclusive
// [start, end] pairs.
type ShardInfo struct {
	Slots [][2]int   `json:"slots"`
	Nodes []NodeInfo `json:"nodes"`
}

// LinkInfo is one entry of the ClusterLinks reply
type LinkInfo struct {
	Direction string `json:"direction"` // "to" or "from"
	Node      string `json:"node"`
	CreatedAt int64  `json:"created_at"` // unix millis
	Events    string `json:"events"`
}

// --------------------------------------------------------------------------
// Read-only field view
// --------------------------------------------------------------------------

// Fields is an immutable string map used for key/value style replies such as
// ClusterInfo. The decoded map is never handed out, so replies cannot be
// mutated in place.
type Fields struct {
	m map[string]string
}

// NewFields creates a view over a copy of m
func NewFields(m map[string]string) Fields {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return Fields{m: c}
}

// Get returns the value of a field
func (f Fields) Get(key string) (string, bool) {
	v, ok := f.m[key]
	return v, ok
}

// Len returns the number of fields
func (f Fields) Len() int {
	return len(f.m)
}

// Keys returns the sorted field names
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f.m))
	for k := range f.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler
func (f Fields) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.m)
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Fields) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.m = m
	return nil
}
