// Package serialize implements the task wire format: two archive shapes
// (output/input) that encode little-endian fixed-width primitives and
// length-prefixed byte strings, plus the DataTransfer record exchanged
// alongside the byte stream on every remote-dispatch RPC call (§6).
//
// Grounded in original_source/include/labstor/network/serialize.h's
// BinaryOutputArchive/BinaryInputArchive, replacing its cereal-based C++
// stream with encoding/binary over a bytes.Buffer.
package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// TransferFlag is a bit in a DataTransfer's flag word.
type TransferFlag uint32

const (
	// ReceiverRead means the receiver reads the payload from the sender.
	ReceiverRead TransferFlag = 1 << iota
	// ReceiverWrite means the receiver writes its output into the buffer.
	ReceiverWrite
	// FreeData means the sender owns freeing the buffer after transfer.
	FreeData
)

// DataTransfer is exchanged alongside the byte stream on an RPC call, not
// inside it: it points at a buffer in local memory the transport moves
// to/from the peer, per the direction named in Flags.
type DataTransfer struct {
	Flags  TransferFlag
	Data   []byte
	Size   uint64
	NodeID ids.NodeId
}

// OutputArchive accumulates primitive writes into a metadata byte stream
// and, separately, the ordered list of DataTransfer records a task's
// SaveStart/SaveEnd emits. Finish appends the metadata stream itself as a
// trailing ReceiverRead|FreeData transfer, matching BinaryOutputArchive::Get.
type OutputArchive struct {
	buf    bytes.Buffer
	xfers  []DataTransfer
	nodeID ids.NodeId
}

// NewOutputArchive constructs an archive tagging every DataTransfer it
// collects with nodeID. remote.Queue passes its own node id, since one
// archive is sent unchanged to every replica.
func NewOutputArchive(nodeID ids.NodeId) *OutputArchive {
	return &OutputArchive{nodeID: nodeID}
}

// PutUint32 writes a little-endian u32 to the metadata stream.
func (a *OutputArchive) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.buf.Write(b[:])
}

// PutUint64 writes a little-endian u64 to the metadata stream.
func (a *OutputArchive) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.buf.Write(b[:])
}

// PutBytes writes a 64-bit length prefix followed by raw bytes.
func (a *OutputArchive) PutBytes(p []byte) {
	a.PutUint64(uint64(len(p)))
	a.buf.Write(p)
}

// PutString writes a length-prefixed UTF-8 string.
func (a *OutputArchive) PutString(s string) {
	a.PutBytes([]byte(s))
}

// AddTransfer records a DataTransfer a task's save hook wants to ship
// alongside the metadata stream (e.g. a bulk I/O payload).
func (a *OutputArchive) AddTransfer(dt DataTransfer) {
	dt.NodeID = a.nodeID
	a.xfers = append(a.xfers, dt)
}

// Finish returns the ordered DataTransfer list: any payload transfers the
// task added, followed by one trailing record carrying the metadata blob.
func (a *OutputArchive) Finish() []DataTransfer {
	meta := DataTransfer{
		Flags:  ReceiverRead | FreeData,
		Data:   a.buf.Bytes(),
		Size:   uint64(a.buf.Len()),
		NodeID: a.nodeID,
	}
	return append(append([]DataTransfer{}, a.xfers...), meta)
}

// InputArchive replays an OutputArchive's output: the trailing element of
// xfers is the metadata blob, everything before it is payload transfers
// consumed in order via NextTransfer.
type InputArchive struct {
	xfers  []DataTransfer
	xferAt int
	buf    *bytes.Reader
}

// NewInputArchive constructs an archive from the DataTransfer list an RPC
// call delivered, peeling off the trailing metadata blob.
func NewInputArchive(xfers []DataTransfer) (*InputArchive, error) {
	if len(xfers) == 0 {
		return nil, fmt.Errorf("serialize: empty transfer list, no metadata record")
	}
	meta := xfers[len(xfers)-1]
	return &InputArchive{
		xfers: xfers[:len(xfers)-1],
		buf:   bytes.NewReader(meta.Data),
	}, nil
}

// GetUint32 reads a little-endian u32 from the metadata stream.
func (a *InputArchive) GetUint32() (uint32, error) {
	var b [4]byte
	if _, err := a.buf.Read(b[:]); err != nil {
		return 0, fmt.Errorf("serialize: read u32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// GetUint64 reads a little-endian u64 from the metadata stream.
func (a *InputArchive) GetUint64() (uint64, error) {
	var b [8]byte
	if _, err := a.buf.Read(b[:]); err != nil {
		return 0, fmt.Errorf("serialize: read u64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// GetBytes reads a length-prefixed byte string.
func (a *InputArchive) GetBytes() ([]byte, error) {
	n, err := a.GetUint64()
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := a.buf.Read(out); err != nil {
			return nil, fmt.Errorf("serialize: read %d bytes: %w", n, err)
		}
	}
	return out, nil
}

// GetString reads a length-prefixed UTF-8 string.
func (a *InputArchive) GetString() (string, error) {
	b, err := a.GetBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NextTransfer consumes the next payload DataTransfer in order (excluding
// the trailing metadata record, already peeled off by NewInputArchive).
func (a *InputArchive) NextTransfer() (DataTransfer, error) {
	if a.xferAt >= len(a.xfers) {
		return DataTransfer{}, fmt.Errorf("serialize: no more data transfers")
	}
	dt := a.xfers[a.xferAt]
	a.xferAt++
	return dt, nil
}
