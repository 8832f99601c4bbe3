package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/romshark/intlbuild"
)

// JSON is a nested object catalog where namespaces are objects and
// messages are string leaves, e.g. {"nav": {"home": "Home"}}.
// It carries neither descriptions nor references.
type JSON struct{}

var _ Codec = JSON{}

func (JSON) Extension() string { return ".json" }

func (JSON) Decode(content []byte, _ Context) ([]intlbuild.Message, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return flatten("", v, nil)
}

func (JSON) Encode(msgs []intlbuild.Message, _ Context) ([]byte, error) {
	return nestedJSON(msgs)
}

func (JSON) ToJSONString(content []byte, _ Context) (string, error) {
	return string(content), nil
}
