package wire

import "testing"

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := Header{Kind: KindData, Flags: FlagRetransmit, PayloadLen: 5, Seq: 0x1122334455}

	buf := make([]byte, HeaderSize)
	EncodeHeader(h, buf)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderUnsupportedKind(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0xFF
	if _, err := DecodeHeader(buf); err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeDecodeDataRoundTrip(t *testing.T) {
	payload := []byte("hello")
	h := Header{Kind: KindData, Seq: 0}

	datagram := Encode(h, payload)

	gotHdr, gotBody, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if gotHdr.Seq != 0 || gotHdr.Kind != KindData {
		t.Fatalf("unexpected header: %+v", gotHdr)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("payload mismatch: got %q", gotBody)
	}
}

func TestDecodeMalformedFrameDeclaredLengthExceedsBody(t *testing.T) {
	h := Header{Kind: KindData, PayloadLen: 10, Seq: 1}
	buf := make([]byte, HeaderSize)
	EncodeHeader(h, buf) // no body bytes appended, but header claims 10

	if _, _, err := Decode(buf); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestACKBodyRoundTrip(t *testing.T) {
	b := AckBody{HighestSeq: 42, SelectiveBitmap: 0b1011}
	encoded := EncodeACKBody(b)
	datagram := Encode(Header{Kind: KindACK, Seq: 42}, encoded)

	hdr, body, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if hdr.Kind != KindACK {
		t.Fatalf("expected KindACK, got %v", hdr.Kind)
	}
	got, err := DecodeACKBody(body)
	if err != nil {
		t.Fatalf("DecodeACKBody failed: %v", err)
	}
	if got != b {
		t.Fatalf("ack body mismatch: got %+v, want %+v", got, b)
	}
}

func TestNAKBodyRoundTrip(t *testing.T) {
	b := NakBody{GapStart: 3, GapEnd: 3}
	encoded := EncodeNAKBody(b)
	got, err := DecodeNAKBody(encoded)
	if err != nil {
		t.Fatalf("DecodeNAKBody failed: %v", err)
	}
	if got != b {
		t.Fatalf("nak body mismatch: got %+v, want %+v", got, b)
	}
}

func TestStatusBodyRoundTrip(t *testing.T) {
	b := StatusBody{ReceiverWindowBytes: 65536, HighestReceivedSeq: 99, LastSendTimeEcho: 123456}
	encoded := EncodeStatusBody(b)
	got, err := DecodeStatusBody(encoded)
	if err != nil {
		t.Fatalf("DecodeStatusBody failed: %v", err)
	}
	if got != b {
		t.Fatalf("status body mismatch: got %+v, want %+v", got, b)
	}
}

func TestHeartbeatHasNoPayload(t *testing.T) {
	datagram := Encode(Header{Kind: KindHeartbeat, Seq: 7}, nil)
	hdr, body, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if hdr.PayloadLen != 0 || len(body) != 0 {
		t.Fatalf("expected empty heartbeat payload, got len %d", len(body))
	}
}
