package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: 1 byte MsgType, 2 bytes field flags (big endian), followed by the
// present fields in flag order. Variable length fields are prefixed with a
// uint32 length, integers are 8 bytes.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey    uint16 = 1 << 0
	hasValue  uint16 = 1 << 1
	hasTTL    uint16 = 1 << 2
	hasArgs   uint16 = 1 << 3
	hasScript uint16 = 1 << 4
	hasInt    uint16 = 1 << 5
	hasCount  uint16 = 1 << 6
	hasOk     uint16 = 1 << 7
	hasErr    uint16 = 1 << 8
	hasMeta   uint16 = 1 << 9
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := binWriter{buf: make([]byte, headerSize, b.sizeBytes(msg))}
	w.buf[0] = byte(msg.MsgType)

	var flags uint16

	if msg.Key != "" {
		flags |= hasKey
		w.bytes([]byte(msg.Key))
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.TTL != 0 {
		flags |= hasTTL
		w.int(msg.TTL)
	}
	if msg.Args != nil {
		flags |= hasArgs
		w.uint32(uint32(len(msg.Args)))
		for _, arg := range msg.Args {
			w.bytes(arg)
		}
	}
	if msg.Script != "" {
		flags |= hasScript
		w.bytes([]byte(msg.Script))
	}
	if msg.Int != 0 {
		flags |= hasInt
		w.int(msg.Int)
	}
	if msg.Count != 0 {
		flags |= hasCount
		w.int(msg.Count)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		w.bytes([]byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		w.bytes(msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(w.buf[1:3], flags)

	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := binReader{data: data, pos: headerSize}

	if flags&hasKey != 0 {
		msg.Key = string(r.bytes("key"))
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if flags&hasTTL != 0 {
		msg.TTL = r.int("ttl")
	}
	if flags&hasArgs != 0 {
		n := r.uint32("args count")
		if r.err == nil {
			msg.Args = make([][]byte, 0, min(int(n), len(data)))
			for i := uint32(0); i < n && r.err == nil; i++ {
				msg.Args = append(msg.Args, r.bytes("arg"))
			}
		}
	}
	if flags&hasScript != 0 {
		msg.Script = string(r.bytes("script"))
	}
	if flags&hasInt != 0 {
		msg.Int = r.int("int")
	}
	if flags&hasCount != 0 {
		msg.Count = r.int("count")
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasErr != 0 {
		msg.Err = string(r.bytes("error"))
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.bytes("meta")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.TTL != 0 {
		size += 8
	}
	if msg.Args != nil {
		size += 4
		for _, arg := range msg.Args {
			size += 4 + len(arg)
		}
	}
	if msg.Script != "" {
		size += 4 + len(msg.Script)
	}
	if msg.Int != 0 {
		size += 8
	}
	if msg.Count != 0 {
		size += 8
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}

// binWriter appends length prefixed fields to a buffer
type binWriter struct {
	buf []byte
}

func (w *binWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *binWriter) int(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *binWriter) bytes(v []byte) {
	w.uint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// binReader reads fields written by binWriter. The first error sticks and
// turns all further reads into no-ops.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binReader) uint32(field string) uint32 {
	if !r.need(4, field+" length") {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binReader) int(field string) int64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return int64(v)
}

// bytes returns a copy of the next length prefixed field. An empty field is
// returned as an empty, non-nil slice.
func (r *binReader) bytes(field string) []byte {
	n := int(r.uint32(field))
	if !r.need(n, field+" data") {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.data[r.pos:r.pos+n])
	r.pos += n
	return v
}
