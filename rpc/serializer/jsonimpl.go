package serializer

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding. Message
// types are written by name (see common.MessageType.MarshalJSON), so frames
// can be read in a packet capture.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// reset so fields absent from b do not survive from an earlier use of msg
	*msg = common.Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}
