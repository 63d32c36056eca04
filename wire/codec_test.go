package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Envelope{
		SenderHost: "10.0.0.1",
		SenderPort: 9000,
		Address:    "orders.created",
		ReplyAddr:  "__reply.abc123",
		Headers:    map[string]string{"trace-id": "xyz"},
		Body:       []byte(`{"id":1}`),
		CodecID:    "application/json",
		IsSend:     true,
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Address != in.Address || out.ReplyAddr != in.ReplyAddr || out.CodecID != in.CodecID || out.IsSend != in.IsSend {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if out.Headers["trace-id"] != "xyz" {
		t.Fatalf("headers lost in round trip: %+v", out.Headers)
	}
}

func TestPingEnvelope(t *testing.T) {
	p := Ping()
	if !p.IsPing() {
		t.Fatal("Ping() envelope should report IsPing() == true")
	}
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.IsPing() {
		t.Fatal("decoded ping envelope lost its ping codec identity")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not a gob stream")); err == nil {
		t.Fatal("Decode should reject malformed input")
	}
}
