package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/morphfit/pkg/fit"
)

// Binding file errors.
var (
	ErrInvalidBindMagic       = errors.New("invalid binding magic: expected 'MFBD'")
	ErrUnsupportedBindVersion = errors.New("unsupported binding version")
	ErrTruncatedBindData      = errors.New("truncated binding data")
)

// BindVersion is the binding file version written by WriteBinding.
const BindVersion = 1

const bindHeaderSize = 20

// bindHeader is the fixed part of a binding file.
type bindHeader struct {
	Magic     [4]byte
	Version   uint16
	Flags     uint16
	Rows      uint32
	Entries   uint32
	SourceLen uint32
}

// ParseBinding parses a binding file from raw bytes. The result is
// validated before it is returned.
func ParseBinding(data []byte) (*fit.Binding, error) {
	if len(data) < bindHeaderSize {
		return nil, ErrTruncatedBindData
	}

	r := bytes.NewReader(data)
	var h bindHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: reading header", ErrTruncatedBindData)
	}
	if string(h.Magic[:]) != "MFBD" {
		return nil, ErrInvalidBindMagic
	}
	if h.Version != BindVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBindVersion, h.Version)
	}

	need := 4 * (uint64(h.Rows) + 1 + 2*uint64(h.Entries))
	if uint64(r.Len()) < need {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedBindData, need, r.Len())
	}

	b := &fit.Binding{
		SourceLen: h.SourceLen,
		Positions: make([]uint32, h.Rows+1),
		Index:     make([]uint32, h.Entries),
		Weight:    make([]float32, h.Entries),
	}
	if err := binary.Read(r, binary.LittleEndian, b.Positions); err != nil {
		return nil, fmt.Errorf("%w: reading positions", ErrTruncatedBindData)
	}
	if err := binary.Read(r, binary.LittleEndian, b.Index); err != nil {
		return nil, fmt.Errorf("%w: reading indices", ErrTruncatedBindData)
	}
	if err := binary.Read(r, binary.LittleEndian, b.Weight); err != nil {
		return nil, fmt.Errorf("%w: reading weights", ErrTruncatedBindData)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseBindingFile parses a binding file from disk.
func ParseBindingFile(path string) (*fit.Binding, error) {
	data, err := readFile(path, "binding")
	if err != nil {
		return nil, err
	}
	return ParseBinding(data)
}

// WriteBinding writes b in binding file format.
func WriteBinding(w io.Writer, b *fit.Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	h := bindHeader{
		Magic:     [4]byte{'M', 'F', 'B', 'D'},
		Version:   BindVersion,
		Rows:      uint32(b.Len()),
		Entries:   uint32(b.Entries()),
		SourceLen: b.SourceLen,
	}
	binary.Write(buf, binary.LittleEndian, h)
	binary.Write(buf, binary.LittleEndian, b.Positions)
	binary.Write(buf, binary.LittleEndian, b.Index)
	binary.Write(buf, binary.LittleEndian, b.Weight)

	_, err := w.Write(buf.Bytes())
	return err
}

// SaveBinding writes b to path.
func SaveBinding(path string, b *fit.Binding) error {
	return writeFile(path, func(w io.Writer) error { return WriteBinding(w, b) })
}
