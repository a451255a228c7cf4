package wire

import (
	"math/rand"
	"reflect"
	"testing"
)

// TestTopologyMessage_RandomRoundTrip covers spec.md §8's codec round-trip
// property: decode(encode(m)) == m for arbitrary field values within their
// declared ranges.
func TestTopologyMessage_RandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		want := TopologyMessage{
			ParentGeneration:   uint16(rng.Intn(65536)),
			AssignedSiblingNum: uint16(rng.Intn(65536)),
		}
		for n := rng.Intn(6); n > 0; n-- {
			want.Ancestry = append(want.Ancestry, AncestorEntry{
				Addr: PeerAddr{IP: rng.Uint32(), Port: uint16(rng.Intn(65536))},
			})
		}
		for n := rng.Intn(6); n > 0; n-- {
			want.Siblings = append(want.Siblings, SiblingEntry{
				Addr:          PeerAddr{IP: rng.Uint32(), Port: uint16(rng.Intn(65536))},
				SiblingNumber: uint16(rng.Intn(65536)),
			})
		}

		got, err := DecodeTopology(encodeTopology(ConnRep, want).Payload)
		if err != nil {
			t.Fatalf("round %d: decode failed: %v", i, err)
		}
		if got.ParentGeneration != want.ParentGeneration || got.AssignedSiblingNum != want.AssignedSiblingNum {
			t.Fatalf("round %d: scalar mismatch: got %+v want %+v", i, got, want)
		}
		if !reflect.DeepEqual(normalizeEmpty(got.Ancestry), normalizeEmpty(want.Ancestry)) {
			t.Fatalf("round %d: ancestry mismatch: got %+v want %+v", i, got.Ancestry, want.Ancestry)
		}
		if !reflect.DeepEqual(normalizeEmptySiblings(got.Siblings), normalizeEmptySiblings(want.Siblings)) {
			t.Fatalf("round %d: siblings mismatch: got %+v want %+v", i, got.Siblings, want.Siblings)
		}
	}
}

func normalizeEmpty(s []AncestorEntry) []AncestorEntry {
	if len(s) == 0 {
		return nil
	}
	return s
}

func normalizeEmptySiblings(s []SiblingEntry) []SiblingEntry {
	if len(s) == 0 {
		return nil
	}
	return s
}

// TestConnReq_RandomRoundTrip covers the same property for CONN_REQ, whose
// key is variable-length.
func TestConnReq_RandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		key := make([]byte, rng.Intn(64))
		rng.Read(key)
		want := ConnReqMessage{
			Terminal:      rng.Intn(2) == 0,
			ListeningPort: uint16(rng.Intn(65536)),
			Key:           key,
		}
		got, err := DecodeConnReq(EncodeConnReq(want).Payload)
		if err != nil {
			t.Fatalf("round %d: decode failed: %v", i, err)
		}
		if got.Terminal != want.Terminal || got.ListeningPort != want.ListeningPort {
			t.Fatalf("round %d: scalar mismatch: got %+v want %+v", i, got, want)
		}
		if len(got.Key) == 0 && len(want.Key) == 0 {
			continue
		}
		if !reflect.DeepEqual(got.Key, want.Key) {
			t.Fatalf("round %d: key mismatch: got %v want %v", i, got.Key, want.Key)
		}
	}
}
