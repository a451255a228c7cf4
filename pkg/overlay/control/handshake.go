package control

import (
	"context"

	"github.com/pkg/errors"
	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/internal/metrics"
	"github.com/swessel1/overlay/pkg/overlay/topology"
	"github.com/swessel1/overlay/pkg/overlay/transport"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// ErrBadKey is returned when the parent rejects the shared key with
// CONN_BAD.
var ErrBadKey = errors.New("control: handshake rejected, bad key")

// ErrUnexpectedReply is returned when the parent's first reply is neither
// CONN_REP nor CONN_BAD.
var ErrUnexpectedReply = errors.New("control: unexpected handshake reply")

// joinResult carries what the handshake learned, for the caller to fold
// into its own Topology State and connection index.
type joinResult struct {
	parentConn *transport.PeerConn
	ancestry   []*topology.PeerRecord
	siblings   []*topology.PeerRecord
	generation uint16
	siblingNum uint16
}

// join runs the handshake of spec.md §4.7: open a stream to the candidate
// parent (retrying per spec.md §4.3), send CONN_REQ, and block for exactly
// one reply frame. This is the one synchronous, bus-bypassing code path --
// it never touches the Event Bus.
func join(ctx context.Context, parentAddr wire.PeerAddr, localListeningPort uint16, terminal bool, key string, logger log.Logger, m *metrics.Collectors) (*joinResult, error) {
	m.HandshakeAttempts.Inc()

	conn := transport.NewOutbound(parentAddr, logger)
	if err := conn.Open(ctx); err != nil {
		m.HandshakeFailures.Inc()
		return nil, errors.Wrap(err, "control: handshake connect failed")
	}

	req := wire.EncodeConnReq(wire.ConnReqMessage{
		Terminal:      terminal,
		ListeningPort: localListeningPort,
		Key:           []byte(key),
	})
	if err := conn.Send(req); err != nil {
		_ = conn.Close()
		m.HandshakeFailures.Inc()
		return nil, errors.Wrap(err, "control: handshake send CONN_REQ failed")
	}

	reply, err := conn.Receive()
	if err != nil {
		_ = conn.Close()
		m.HandshakeFailures.Inc()
		return nil, errors.Wrap(err, "control: handshake receive failed")
	}

	switch reply.Header {
	case wire.ConnBad:
		_ = conn.Close()
		m.HandshakeFailures.Inc()
		return nil, ErrBadKey
	case wire.ConnRep:
		top, err := wire.DecodeTopology(reply.Payload)
		if err != nil {
			_ = conn.Close()
			m.HandshakeFailures.Inc()
			return nil, errors.Wrap(err, "control: handshake decode CONN_REP failed")
		}
		return adopt(conn, parentAddr, top), nil
	default:
		_ = conn.Close()
		m.HandshakeFailures.Inc()
		return nil, ErrUnexpectedReply
	}
}

// adopt turns a decoded CONN_REP/NET_TOP payload plus the live parent
// connection into the ancestry/sibling records spec.md §4.7 describes:
// ancestry[0].generation = parent_generation, self.generation =
// parent_generation + 1, self.sibling_number = assigned, remaining
// ancestors appended in order.
func adopt(parentConn *transport.PeerConn, parentAddr wire.PeerAddr, top wire.TopologyMessage) *joinResult {
	parentRecord := &topology.PeerRecord{
		Addr:          parentAddr,
		ListeningPort: parentAddr.Port,
		Generation:    top.ParentGeneration,
		Conn:          parentConn,
	}

	ancestry := make([]*topology.PeerRecord, 0, len(top.Ancestry)+1)
	ancestry = append(ancestry, parentRecord)
	for i, a := range top.Ancestry {
		ancestry = append(ancestry, &topology.PeerRecord{
			Addr:          a.Addr,
			ListeningPort: a.Addr.Port,
			Generation:    top.ParentGeneration - uint16(i) - 1,
		})
	}

	siblings := make([]*topology.PeerRecord, 0, len(top.Siblings))
	for _, s := range top.Siblings {
		siblings = append(siblings, &topology.PeerRecord{
			Addr:          s.Addr,
			ListeningPort: s.Addr.Port,
			Generation:    top.ParentGeneration + 1,
			SiblingNumber: s.SiblingNumber,
		})
	}

	return &joinResult{
		parentConn: parentConn,
		ancestry:   ancestry,
		siblings:   siblings,
		generation: top.ParentGeneration + 1,
		siblingNum: top.AssignedSiblingNum,
	}
}
