package wire

import "encoding/json"

// Codec converts between a Configs envelope and the bytes carried on
// the wire (SSE data: lines, CDN response bodies, disk cache files).
// The wire schema itself is normally supplied by the embedder;
// DefaultCodec exists so the module is runnable and testable
// standalone.
type Codec interface {
	Encode(Configs) ([]byte, error)
	Decode([]byte) (Configs, error)
}

type jsonCodec struct{}

// DefaultCodec returns a Codec that encodes the envelope as JSON.
func DefaultCodec() Codec { return jsonCodec{} }

func (jsonCodec) Encode(cfgs Configs) ([]byte, error) {
	return json.Marshal(cfgs)
}

func (jsonCodec) Decode(data []byte) (Configs, error) {
	var cfgs Configs
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return Configs{}, err
	}
	return cfgs, nil
}
