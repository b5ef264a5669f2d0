package postgres

import (
	"encoding/json"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func encodePayload(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decodePayload(blob []byte, v interface{}) error {
	if len(blob) == 0 {
		return nil
	}
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
