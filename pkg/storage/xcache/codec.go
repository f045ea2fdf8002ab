package xcache

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec 负责缓存值的序列化。
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec 使用 encoding/json，默认编解码器。
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

// CBORCodec 使用 CBOR 二进制编码，体积更小。
// 结构体字段未声明 cbor 标签时沿用 json 标签。
type CBORCodec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

// NewCBORCodec 创建 CBOR 编解码器。
// 嵌套 map 解码为 map[string]any，与 JSON 解码结果的形状一致。
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("xcache: create CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 32,
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("xcache: create CBOR decoder: %w", err)
	}
	return &CBORCodec{em: em, dm: dm}, nil
}

func (c *CBORCodec) Marshal(v any) ([]byte, error)      { return c.em.Marshal(v) }
func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dm.Unmarshal(data, v) }
func (c *CBORCodec) Name() string                       { return "cbor" }
