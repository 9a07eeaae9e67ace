// Package wire converts between the JSON request and response types and
// google.protobuf.Struct, the protobuf form used by binary HTTP clients and
// the gRPC service.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
)

// ── Requests ─────────────────────────────────────────────────────────────────

func VerifyRequestFromStruct(s *structpb.Struct) types.VerifyRequest {
	return types.VerifyRequest{
		APIKey:   stringField(s, "api_key"),
		CardKey:  stringField(s, "card_key"),
		DeviceID: stringField(s, "device_id"),
	}
}

func QueryRequestFromStruct(s *structpb.Struct) types.QueryRequest {
	return types.QueryRequest{
		APIKey:  stringField(s, "api_key"),
		CardKey: stringField(s, "card_key"),
	}
}

// stringField returns the field as a string.  Numbers are accepted for
// clients that send numeric device ids.
func stringField(s *structpb.Struct, name string) string {
	v := s.GetFields()[name]
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return fmt.Sprintf("%.0f", k.NumberValue)
	default:
		return ""
	}
}

// ── Responses ────────────────────────────────────────────────────────────────

// ToStruct converts any JSON-encodable value, such as an Envelope or a
// HealthResponse, using its JSON field names.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("wire: to struct: %w", err)
	}
	return out, nil
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("wire: from struct: %w", err)
	}
	return json.Unmarshal(data, v)
}

// EnvelopeStruct is ToStruct for envelopes.  It cannot fail for the types
// this module produces; on error it falls back to a bare system error.
func EnvelopeStruct(env types.Envelope) *structpb.Struct {
	s, err := ToStruct(env)
	if err != nil {
		s, _ = structpb.NewStruct(map[string]any{
			"code":    float64(types.CodeSystemError),
			"success": false,
			"message": "internal system error",
		})
	}
	return s
}
