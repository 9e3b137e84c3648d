package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEnvelopeCarriesArbitraryPayloadBytes(t *testing.T) {
	payload := []byte{0x00, 0xff, '{', 0x80, 'n', 'o', 't', ' ', 'j', 's', 'o', 'n'}
	in := Envelope{Type: TypeData, Payload: payload, Reliable: true}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Errorf("payload round trip mismatch: %v vs %v", out.Payload, payload)
	}
	if out.Type != TypeData || !out.Reliable {
		t.Errorf("envelope fields lost: %+v", out)
	}
}

func TestEnvelopeOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Envelope{Type: TypePing})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
