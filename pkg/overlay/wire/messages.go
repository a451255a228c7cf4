package wire

// PeerAddr is an IPv4 address plus port, the wire representation used
// throughout the control protocol (spec.md §6: "IPv4 addresses travel as
// 32-bit big-endian network-order integers; listening ports as 16-bit
// big-endian").
type PeerAddr struct {
	IP   uint32
	Port uint16
}

// AncestorEntry is one element of the ancestry vector in a Topology
// message: address and listening port, no sibling number (an ancestor's
// sibling number among its own siblings is irrelevant to the receiver).
type AncestorEntry struct {
	Addr PeerAddr
}

// SiblingEntry is one element of the sibling vector in a Topology message.
type SiblingEntry struct {
	Addr          PeerAddr
	SiblingNumber uint16
}

// ConnReqMessage is the payload of a CONN_REQ frame.
type ConnReqMessage struct {
	Terminal      bool
	ListeningPort uint16
	Key           []byte
}

func EncodeConnReq(m ConnReqMessage) Frame {
	w := NewWriter()
	terminal := uint8(0)
	if m.Terminal {
		terminal = 1
	}
	w.PutUint8(terminal).
		PutUint16(m.ListeningPort).
		PutUint32(uint32(len(m.Key))).
		PutBytes(m.Key)
	return Frame{Header: ConnReq, Payload: w.Bytes()}
}

func DecodeConnReq(payload []byte) (ConnReqMessage, error) {
	r := NewReader(payload)
	terminal, err := r.Uint8()
	if err != nil {
		return ConnReqMessage{}, err
	}
	port, err := r.Uint16()
	if err != nil {
		return ConnReqMessage{}, err
	}
	keyLen, err := r.Uint32()
	if err != nil {
		return ConnReqMessage{}, err
	}
	key, err := r.Bytes(int(keyLen))
	if err != nil {
		return ConnReqMessage{}, err
	}
	return ConnReqMessage{
		Terminal:      terminal != 0,
		ListeningPort: port,
		Key:           key,
	}, nil
}

// TopologyMessage is the payload shared by CONN_REP and NET_TOP (spec.md
// §4.2): an ancestry vector, a sibling vector, the sender's generation, and
// the sibling number assigned to (or already held by) the receiver.
type TopologyMessage struct {
	ParentGeneration   uint16
	AssignedSiblingNum uint16
	Ancestry           []AncestorEntry
	Siblings           []SiblingEntry
}

func encodeTopology(header Header, m TopologyMessage) Frame {
	w := NewWriter()
	w.PutUint16(uint16(len(m.Ancestry))).
		PutUint16(uint16(len(m.Siblings))).
		PutUint16(m.ParentGeneration).
		PutUint16(m.AssignedSiblingNum)
	for _, a := range m.Ancestry {
		w.PutUint32(a.Addr.IP).PutUint16(a.Addr.Port)
	}
	for _, s := range m.Siblings {
		w.PutUint32(s.Addr.IP).PutUint16(s.Addr.Port).PutUint16(s.SiblingNumber)
	}
	return Frame{Header: header, Payload: w.Bytes()}
}

// EncodeConnRep encodes a handshake reply. Identical wire shape to
// EncodeNetTop; kept as a distinct name for readability at call sites that
// are handling a handshake versus a topology push.
func EncodeConnRep(m TopologyMessage) Frame { return encodeTopology(ConnRep, m) }

// EncodeNetTop encodes an unsolicited topology push from an intermediate
// node to a child.
func EncodeNetTop(m TopologyMessage) Frame { return encodeTopology(NetTop, m) }

func DecodeTopology(payload []byte) (TopologyMessage, error) {
	r := NewReader(payload)
	ancestrySize, err := r.Uint16()
	if err != nil {
		return TopologyMessage{}, err
	}
	siblingSize, err := r.Uint16()
	if err != nil {
		return TopologyMessage{}, err
	}
	parentGen, err := r.Uint16()
	if err != nil {
		return TopologyMessage{}, err
	}
	assigned, err := r.Uint16()
	if err != nil {
		return TopologyMessage{}, err
	}

	ancestry := make([]AncestorEntry, 0, ancestrySize)
	for i := 0; i < int(ancestrySize); i++ {
		ip, err := r.Uint32()
		if err != nil {
			return TopologyMessage{}, err
		}
		port, err := r.Uint16()
		if err != nil {
			return TopologyMessage{}, err
		}
		ancestry = append(ancestry, AncestorEntry{Addr: PeerAddr{IP: ip, Port: port}})
	}

	siblings := make([]SiblingEntry, 0, siblingSize)
	for i := 0; i < int(siblingSize); i++ {
		ip, err := r.Uint32()
		if err != nil {
			return TopologyMessage{}, err
		}
		port, err := r.Uint16()
		if err != nil {
			return TopologyMessage{}, err
		}
		num, err := r.Uint16()
		if err != nil {
			return TopologyMessage{}, err
		}
		siblings = append(siblings, SiblingEntry{Addr: PeerAddr{IP: ip, Port: port}, SiblingNumber: num})
	}

	return TopologyMessage{
		ParentGeneration:   parentGen,
		AssignedSiblingNum: assigned,
		Ancestry:           ancestry,
		Siblings:           siblings,
	}, nil
}

// SiblingAddMessage announces a new non-terminal sibling.
type SiblingAddMessage struct {
	Addr          PeerAddr
	SiblingNumber uint16
}

func EncodeSiblingAdd(m SiblingAddMessage) Frame {
	w := NewWriter()
	w.PutUint32(m.Addr.IP).PutUint16(m.Addr.Port).PutUint16(m.SiblingNumber)
	return Frame{Header: SiblingAdd, Payload: w.Bytes()}
}

func DecodeSiblingAdd(payload []byte) (SiblingAddMessage, error) {
	r := NewReader(payload)
	ip, err := r.Uint32()
	if err != nil {
		return SiblingAddMessage{}, err
	}
	port, err := r.Uint16()
	if err != nil {
		return SiblingAddMessage{}, err
	}
	num, err := r.Uint16()
	if err != nil {
		return SiblingAddMessage{}, err
	}
	return SiblingAddMessage{Addr: PeerAddr{IP: ip, Port: port}, SiblingNumber: num}, nil
}

// SiblingRmvMessage announces a sibling's departure.
type SiblingRmvMessage struct {
	SiblingNumber uint16
}

func EncodeSiblingRmv(m SiblingRmvMessage) Frame {
	w := NewWriter()
	w.PutUint16(m.SiblingNumber)
	return Frame{Header: SiblingRmv, Payload: w.Bytes()}
}

func DecodeSiblingRmv(payload []byte) (SiblingRmvMessage, error) {
	r := NewReader(payload)
	num, err := r.Uint16()
	if err != nil {
		return SiblingRmvMessage{}, err
	}
	return SiblingRmvMessage{SiblingNumber: num}, nil
}

// EncodeConnBad encodes the key-rejected frame, which carries no payload.
func EncodeConnBad() Frame {
	return Frame{Header: ConnBad, Payload: nil}
}
