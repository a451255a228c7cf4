package wire

import (
	"bytes"
	"testing"
)

func TestFrame_WriteAndReadRoundTrip(t *testing.T) {
	cases := []Frame{
		{Header: ConnReq, Payload: EncodeConnReq(ConnReqMessage{Terminal: true, ListeningPort: 26006, Key: []byte("k")}).Payload},
		{Header: ConnBad, Payload: nil},
		{Header: SiblingAdd, Payload: EncodeSiblingAdd(SiblingAddMessage{Addr: PeerAddr{IP: 0x7f000001, Port: 26007}, SiblingNumber: 2}).Payload},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if _, err := want.WriteTo(&buf); err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Header != want.Header {
			t.Fatalf("header: got %v want %v", got.Header, want.Header)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("payload: got %v want %v", got.Payload, want.Payload)
		}
	}
}

func TestReadFrame_ShortReadIsReported(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{byte(ConnReq), 0x00, 0x00}) // truncated length field
	if _, err := ReadFrame(&buf); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestConnReq_RoundTrip(t *testing.T) {
	want := ConnReqMessage{Terminal: false, ListeningPort: 26005, Key: []byte("shared-secret")}
	frame := EncodeConnReq(want)
	got, err := DecodeConnReq(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeConnReq: %v", err)
	}
	if got.Terminal != want.Terminal || got.ListeningPort != want.ListeningPort || !bytes.Equal(got.Key, want.Key) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestTopology_RoundTrip(t *testing.T) {
	want := TopologyMessage{
		ParentGeneration:   3,
		AssignedSiblingNum: 7,
		Ancestry: []AncestorEntry{
			{Addr: PeerAddr{IP: 0x0a000001, Port: 26005}},
			{Addr: PeerAddr{IP: 0x0a000002, Port: 26006}},
		},
		Siblings: []SiblingEntry{
			{Addr: PeerAddr{IP: 0x0a000003, Port: 26007}, SiblingNumber: 1},
		},
	}
	frame := EncodeConnRep(want)
	if frame.Header != ConnRep {
		t.Fatalf("expected ConnRep header")
	}
	got, err := DecodeTopology(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeTopology: %v", err)
	}
	if got.ParentGeneration != want.ParentGeneration || got.AssignedSiblingNum != want.AssignedSiblingNum {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if len(got.Ancestry) != len(want.Ancestry) || len(got.Siblings) != len(want.Siblings) {
		t.Fatalf("size mismatch: got %+v want %+v", got, want)
	}
	for i := range want.Ancestry {
		if got.Ancestry[i] != want.Ancestry[i] {
			t.Fatalf("ancestry[%d]: got %+v want %+v", i, got.Ancestry[i], want.Ancestry[i])
		}
	}
	for i := range want.Siblings {
		if got.Siblings[i] != want.Siblings[i] {
			t.Fatalf("siblings[%d]: got %+v want %+v", i, got.Siblings[i], want.Siblings[i])
		}
	}
}

func TestSiblingAddAndRmv_RoundTrip(t *testing.T) {
	add := SiblingAddMessage{Addr: PeerAddr{IP: 0x7f000001, Port: 26008}, SiblingNumber: 4}
	gotAdd, err := DecodeSiblingAdd(EncodeSiblingAdd(add).Payload)
	if err != nil || gotAdd != add {
		t.Fatalf("SiblingAdd round-trip: got %+v err %v want %+v", gotAdd, err, add)
	}

	rmv := SiblingRmvMessage{SiblingNumber: 4}
	gotRmv, err := DecodeSiblingRmv(EncodeSiblingRmv(rmv).Payload)
	if err != nil || gotRmv != rmv {
		t.Fatalf("SiblingRmv round-trip: got %+v err %v want %+v", gotRmv, err, rmv)
	}
}

func TestDecodeTopology_TruncatedPayloadFailsCleanly(t *testing.T) {
	if _, err := DecodeTopology([]byte{0x00, 0x01}); err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}
