package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// FlattenForWire packs a DataTransfer list into a single byte slice for
// transports that move one opaque payload per call (gRPC's BytesValue,
// here), as opposed to the original's RDMA bulk transfer that moves each
// DataTransfer's buffer independently of the metadata stream. Real
// deployments with RDMA-capable transports would keep these separate and
// skip this packing.
func FlattenForWire(xfers []DataTransfer) []byte {
	var buf bytes.Buffer
	putU64(&buf, uint64(len(xfers)))
	for _, dt := range xfers {
		putU32(&buf, uint32(dt.Flags))
		putU32(&buf, uint32(dt.NodeID))
		putU64(&buf, uint64(len(dt.Data)))
		buf.Write(dt.Data)
	}
	return buf.Bytes()
}

// UnflattenFromWire reverses FlattenForWire.
func UnflattenFromWire(raw []byte) []DataTransfer {
	r := bytes.NewReader(raw)
	n, err := getU64(r)
	if err != nil {
		return nil
	}
	out := make([]DataTransfer, 0, n)
	for i := uint64(0); i < n; i++ {
		flags, err := getU32(r)
		if err != nil {
			return out
		}
		node, err := getU32(r)
		if err != nil {
			return out
		}
		size, err := getU64(r)
		if err != nil {
			return out
		}
		data := make([]byte, size)
		if size > 0 {
			if _, err := r.Read(data); err != nil {
				return out
			}
		}
		out = append(out, DataTransfer{
			Flags:  TransferFlag(flags),
			NodeID: ids.NodeId(node),
			Size:   size,
			Data:   data,
		})
	}
	return out
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func getU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("serialize: read u32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func getU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("serialize: read u64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
