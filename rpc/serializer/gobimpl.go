package serializer

import (
	"bytes"
	"encoding/gob"
	"errors"
	"github.com/ValentinKolb/cKV/rpc/common"
	"sync"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every message is encoded as a self-describing gob stream, which makes this
// the largest format on the wire.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{
		buffers: sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding
type gobSerializerImpl struct {
	buffers sync.Pool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g *gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := g.buffers.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		g.buffers.Put(buf)
	}()

	if err := gob.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	// the buffer goes back to the pool, the frame needs its own copy
	return bytes.Clone(buf.Bytes()), nil
}

func (g *gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) == 0 {
		return errors.New("gob: empty message")
	}
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
