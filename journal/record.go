// Package journal implements the on-disk journal directory: one file per
// committed transaction (spec.md §3, §4.4, §6.2), the persisted
// next-identifier counter, and the record format reader/writer. It knows
// nothing about locking or the data file — callers (the libjio package and
// fsck) apply records to a data file and coordinate locking themselves.
package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jawnsy/Alien-Libjio/checksum"
)

// ID is a transaction identifier: monotonically increasing and unique
// within one journal directory until its record is removed.
type ID uint32

// Magic identifies a libjio journal record on disk.
var Magic = [4]byte{'L', 'J', '0', '1'}

// FormatVersion is the on-disk record format version (spec.md §3).
const FormatVersion uint32 = 1

const (
	headerSize     = 4 + 4 + 4 + 4 + 4 // magic+version+flags+id+nops
	descriptorSize = 8 + 4             // offset+length
	checksumSize   = 4

	// maxRecordSize is the largest record Decode accepts; larger input is
	// rejected as corrupt. It mirrors the teacher's maxMsgSize sanity
	// check in wal/file_wal.go.
	maxRecordSize = 256 * 1024 * 1024
)

// OpDescriptor is one write operation's on-disk descriptor: its target
// offset in the data file and the length of its payload.
type OpDescriptor struct {
	Offset int64
	Length uint32
}

// Record is a fully-decoded, checksum-verified journal record.
type Record struct {
	ID       ID
	Flags    uint32
	Ops      []OpDescriptor
	Payloads [][]byte
}

// ErrCorrupt is returned by ReadRecord when a record's structure or
// checksum doesn't match, per spec.md §4.4.
type ErrCorrupt struct {
	Path   string
	Reason string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt journal record %s: %s", e.Path, e.Reason)
}

// ErrTruncated is returned by ReadRecord when the file is too short to
// hold a header and checksum, or when a record whose checksum matches has
// descriptors that imply more payload than is present. Decode verifies
// the checksum before it reads the descriptors, so a record that was
// cut short after being written normally fails the checksum and is
// reported as *ErrCorrupt instead.
type ErrTruncated struct {
	Path string
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("truncated journal record %s", e.Path)
}

// Encode serializes a record exactly as spec.md §3 lays it out: header,
// N operation descriptors, N payloads concatenated in descriptor order,
// then a checksum over everything preceding it. The returned bytes are
// ready to be written verbatim to a journal file.
func Encode(id ID, flags uint32, ops []OpDescriptor, payloads [][]byte) ([]byte, error) {
	if len(ops) != len(payloads) {
		return nil, fmt.Errorf("journal: %d ops but %d payloads", len(ops), len(payloads))
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(ops)*descriptorSize + totalLen(payloads) + checksumSize)

	var hdr [headerSize]byte
	copy(hdr[0:4], Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], flags)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(id))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(ops)))
	buf.Write(hdr[:])

	for i, op := range ops {
		if int64(len(payloads[i])) != int64(op.Length) {
			return nil, fmt.Errorf("journal: op %d length %d does not match payload length %d", i, op.Length, len(payloads[i]))
		}
		var d [descriptorSize]byte
		binary.LittleEndian.PutUint64(d[0:8], uint64(op.Offset))
		binary.LittleEndian.PutUint32(d[8:12], op.Length)
		buf.Write(d[:])
	}
	for _, p := range payloads {
		buf.Write(p)
	}

	sum := checksum.Of(buf.Bytes())
	var c [checksumSize]byte
	binary.LittleEndian.PutUint32(c[:], sum)
	buf.Write(c[:])

	return buf.Bytes(), nil
}

func totalLen(payloads [][]byte) int {
	n := 0
	for _, p := range payloads {
		n += len(p)
	}
	return n
}

// Decode parses and validates raw record bytes read from path, returning
// a classified *ErrCorrupt or *ErrTruncated on any structural or checksum
// mismatch, per spec.md §4.4's well-formed definition.
func Decode(path string, raw []byte) (*Record, error) {
	if len(raw) < headerSize+checksumSize {
		return nil, &ErrTruncated{Path: path}
	}
	if len(raw) > maxRecordSize {
		return nil, &ErrCorrupt{Path: path, Reason: "record exceeds maximum size"}
	}

	body := raw[:len(raw)-checksumSize]
	wantSum := binary.LittleEndian.Uint32(raw[len(raw)-checksumSize:])
	gotSum := checksum.Of(body)
	if gotSum != wantSum {
		return nil, &ErrCorrupt{Path: path, Reason: "checksum mismatch"}
	}

	hdr := body[:headerSize]
	var magic [4]byte
	copy(magic[:], hdr[0:4])
	if magic != Magic {
		return nil, &ErrCorrupt{Path: path, Reason: "bad magic"}
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != FormatVersion {
		return nil, &ErrCorrupt{Path: path, Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	flags := binary.LittleEndian.Uint32(hdr[8:12])
	id := ID(binary.LittleEndian.Uint32(hdr[12:16]))
	nops := binary.LittleEndian.Uint32(hdr[16:20])

	rest := body[headerSize:]
	descEnd := int64(nops) * descriptorSize
	if int64(len(rest)) < descEnd {
		return nil, &ErrTruncated{Path: path}
	}

	ops := make([]OpDescriptor, nops)
	var payloadTotal int64
	for i := range ops {
		d := rest[i*descriptorSize : (i+1)*descriptorSize]
		ops[i] = OpDescriptor{
			Offset: int64(binary.LittleEndian.Uint64(d[0:8])),
			Length: binary.LittleEndian.Uint32(d[8:12]),
		}
		if ops[i].Offset < 0 {
			return nil, &ErrCorrupt{Path: path, Reason: "negative offset"}
		}
		payloadTotal += int64(ops[i].Length)
	}

	payloadBytes := rest[descEnd:]
	if int64(len(payloadBytes)) != payloadTotal {
		if int64(len(payloadBytes)) < payloadTotal {
			return nil, &ErrTruncated{Path: path}
		}
		return nil, &ErrCorrupt{Path: path, Reason: "payload length mismatch"}
	}

	payloads := make([][]byte, nops)
	var pos int64
	for i, op := range ops {
		payloads[i] = payloadBytes[pos : pos+int64(op.Length)]
		pos += int64(op.Length)
	}

	return &Record{ID: id, Flags: flags, Ops: ops, Payloads: payloads}, nil
}

// readAll is a small seam so tests can exercise Decode without going
// through the filesystem.
func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
