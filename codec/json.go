package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// ContentTypeJSON is the content type of the JSON protocol.
const ContentTypeJSON = "application/json"

// NewJSON returns the JSON protocol. Bodies decode into the encoding/json generic types.
func NewJSON() *Protocol {
	return &Protocol{f: format{
		contentType: ContentTypeJSON,
		marshal:     json.Marshal,
		unmarshal:   json.Unmarshal,
		sniff:       sniffJSON,
		text:        true,
	}}
}

func sniffJSON(data []byte) bool {
	data = bytes.TrimLeft(data, " \t\r\n")

	return len(data) > 0 && (data[0] == '{' || data[0] == '[')
}

// JSONArgs decodes a JSON array body into positional arguments. Other bodies pass through.
var JSONArgs cbus.ArgTransformer = cbus.ArgTransformerFunc(func(call cbus.MethodCall) (any, error) {
	var data []byte

	switch b := call.Body.(type) {
	case []byte:
		data = b
	case json.RawMessage:
		data = b
	case string:
		data = []byte(b)
	default:
		return call.Body, nil
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return call.Body, nil
	}

	var args []any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("decode args: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return args, nil
})
