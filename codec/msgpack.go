package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// ContentTypeMsgpack is the content type of the MessagePack protocol.
const ContentTypeMsgpack = "application/msgpack"

// NewMsgpack returns the MessagePack protocol. Integers in bodies decode as int64 or uint64 and
// floats as float64.
func NewMsgpack() *Protocol {
	return &Protocol{f: format{
		contentType: ContentTypeMsgpack,
		marshal:     msgpack.Marshal,
		unmarshal:   unmarshalMsgpack,
		sniff:       sniffMsgpack,
	}}
}

func unmarshalMsgpack(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// sniffMsgpack accepts payloads starting with a map or an array header.
func sniffMsgpack(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	c := data[0]

	switch {
	case c >= 0x80 && c <= 0x9f: // fixmap, fixarray
		return true
	case c == 0xdc || c == 0xdd || c == 0xde || c == 0xdf: // array16/32, map16/32
		return true
	default:
		return false
	}
}
