package formats

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npz"
)

// NPZ format errors.
var (
	ErrInvalidNPZ   = errors.New("invalid NPZ archive")
	ErrMissingArray = errors.New("NPZ archive is missing an array")
)

// NPZ is a set of named arrays, as written by numpy.savez.
type NPZ map[string]*Array

// Get returns the array called name.
func (z NPZ) Get(name string) (*Array, error) {
	a, ok := z[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingArray, name)
	}
	return a, nil
}

// Names returns the array names in sorted order.
func (z NPZ) Names() []string {
	names := make([]string, 0, len(z))
	for name := range z {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseNPZ parses an NPZ archive from raw bytes. Member names lose their
// ".npy" suffix. Members are read from the zip directly so each one gets
// the byte-length check of ParseNPY before npyio decodes it.
func ParseNPZ(data []byte) (NPZ, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNPZ, err)
	}

	z := make(NPZ, len(zr.File))
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrInvalidNPZ, f.Name, err)
		}
		member, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidNPZ, f.Name, err)
		}
		a, err := ParseNPY(member)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.Name, err)
		}
		z[strings.TrimSuffix(f.Name, ".npy")] = a
	}
	return z, nil
}

// ParseNPZFile parses an NPZ archive from disk.
func ParseNPZFile(path string) (NPZ, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading NPZ file: %w", err)
	}
	return ParseNPZ(data)
}

// WriteNPZ writes the arrays as an NPZ archive, members in sorted order.
// Numeric archives go through npyio's npz writer. Archives holding a
// unicode member or an empty matrix are assembled with archive/zip, since
// npz only accepts values npyio can encode.
func WriteNPZ(w io.Writer, z NPZ) error {
	for _, a := range z {
		if _, ok := a.values.([]string); ok || a.emptyMatrix() {
			return writeZip(w, z)
		}
	}

	nw := npz.NewWriter(w)
	for _, name := range z.Names() {
		v, err := z[name].npyValue()
		if err != nil {
			nw.Close()
			return fmt.Errorf("writing %s: %w", name, err)
		}
		if err := nw.Write(name+".npy", v); err != nil {
			nw.Close()
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nw.Close()
}

func writeZip(w io.Writer, z NPZ) error {
	zw := zip.NewWriter(w)
	for _, name := range z.Names() {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		if err := WriteNPY(fw, z[name]); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return zw.Close()
}

func readFile(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s file: %w", what, err)
	}
	return data, nil
}

// writeFile streams write into path.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
