// Package formats provides readers and writers for morph, weight map,
// binding and mesh files.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// NPY format errors.
var (
	ErrInvalidNPY       = errors.New("invalid NPY data")
	ErrTruncatedNPYData = errors.New("truncated NPY data")
	ErrUnsupportedDType = errors.New("unsupported NPY dtype")
)

const npyMagic = "\x93NUMPY"

// Array is a decoded NPY array. Elements are kept in storage order, which
// is column-major when Fortran is set.
type Array struct {
	DType   string
	Shape   []int
	Fortran bool

	// []float32, []float64, []intN, []uintN or []string
	values any
}

// number is the set of element types npyio decodes for us.
type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// dtype splits a numpy type descriptor such as "<f4" into its kind and
// element size in bytes.
func dtype(descr string) (kind byte, size int, err error) {
	if len(descr) < 3 || !strings.ContainsRune("<>|=", rune(descr[0])) {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}
	kind = descr[1]
	n, err := strconv.Atoi(descr[2:])
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}
	switch kind {
	case 'f':
		if n != 4 && n != 8 {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
		}
	case 'u', 'i':
		if n != 1 && n != 2 && n != 4 && n != 8 {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
		}
	case 'U':
		// n counts UTF-32 code units.
		if n > math.MaxInt32/4 {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
		}
		n *= 4
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}
	return kind, n, nil
}

// elementCount multiplies the dimensions of shape, rejecting products that
// do not fit an int.
func elementCount(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrInvalidNPY, shape)
		}
		if d > 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrInvalidNPY, shape)
		}
		n *= d
	}
	return n, nil
}

// Len returns the number of elements.
func (a *Array) Len() int {
	n, err := elementCount(a.Shape)
	if err != nil {
		return 0
	}
	return n
}

// cIndex maps a row-major element index to its storage position.
func (a *Array) cIndex(i int) int {
	if !a.Fortran || len(a.Shape) != 2 {
		return i
	}
	rows, cols := a.Shape[0], a.Shape[1]
	r, c := i/cols, i%cols
	return c*rows + r
}

func toFloat64s[T number](a *Array, vals []T) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = float64(vals[a.cIndex(i)])
	}
	return out
}

func toUint32s[T number](a *Array, vals []T) ([]uint32, error) {
	out := make([]uint32, len(vals))
	for i := range out {
		v := vals[a.cIndex(i)]
		if v < 0 || uint64(v) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: element %d = %v does not fit uint32", ErrUnsupportedDType, i, v)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// Float64s returns the numeric elements in row-major order as float64.
func (a *Array) Float64s() ([]float64, error) {
	switch v := a.values.(type) {
	case []float32:
		return toFloat64s(a, v), nil
	case []float64:
		return toFloat64s(a, v), nil
	case []int8:
		return toFloat64s(a, v), nil
	case []int16:
		return toFloat64s(a, v), nil
	case []int32:
		return toFloat64s(a, v), nil
	case []int64:
		return toFloat64s(a, v), nil
	case []uint8:
		return toFloat64s(a, v), nil
	case []uint16:
		return toFloat64s(a, v), nil
	case []uint32:
		return toFloat64s(a, v), nil
	case []uint64:
		return toFloat64s(a, v), nil
	default:
		return nil, fmt.Errorf("%w: %s is not numeric", ErrUnsupportedDType, a.DType)
	}
}

// Uint32s returns the elements as uint32. Negative or too large values and
// floating point types are rejected.
func (a *Array) Uint32s() ([]uint32, error) {
	switch v := a.values.(type) {
	case []int8:
		return toUint32s(a, v)
	case []int16:
		return toUint32s(a, v)
	case []int32:
		return toUint32s(a, v)
	case []int64:
		return toUint32s(a, v)
	case []uint8:
		return toUint32s(a, v)
	case []uint16:
		return toUint32s(a, v)
	case []uint32:
		return toUint32s(a, v)
	case []uint64:
		return toUint32s(a, v)
	default:
		return nil, fmt.Errorf("%w: %s is not an integer type", ErrUnsupportedDType, a.DType)
	}
}

// Strings returns the elements of a unicode array.
func (a *Array) Strings() ([]string, error) {
	v, ok := a.values.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a unicode type", ErrUnsupportedDType, a.DType)
	}
	return v, nil
}

// readValues decodes n elements of kind and size through read.
func readValues(read func(any) error, kind byte, size, n int) (any, error) {
	var ptr any
	switch {
	case kind == 'f' && size == 4:
		ptr = ptrTo(make([]float32, n))
	case kind == 'f':
		ptr = ptrTo(make([]float64, n))
	case kind == 'i' && size == 1:
		ptr = ptrTo(make([]int8, n))
	case kind == 'i' && size == 2:
		ptr = ptrTo(make([]int16, n))
	case kind == 'i' && size == 4:
		ptr = ptrTo(make([]int32, n))
	case kind == 'i':
		ptr = ptrTo(make([]int64, n))
	case size == 1:
		ptr = ptrTo(make([]uint8, n))
	case size == 2:
		ptr = ptrTo(make([]uint16, n))
	case size == 4:
		ptr = ptrTo(make([]uint32, n))
	default:
		ptr = ptrTo(make([]uint64, n))
	}
	if err := read(ptr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
	}
	switch p := ptr.(type) {
	case *[]float32:
		return *p, nil
	case *[]float64:
		return *p, nil
	case *[]int8:
		return *p, nil
	case *[]int16:
		return *p, nil
	case *[]int32:
		return *p, nil
	case *[]int64:
		return *p, nil
	case *[]uint8:
		return *p, nil
	case *[]uint16:
		return *p, nil
	case *[]uint32:
		return *p, nil
	default:
		return *ptr.(*[]uint64), nil
	}
}

func ptrTo[T any](v T) *T { return &v }

// ParseNPY parses an NPY file from raw bytes. The header and numeric
// payloads are decoded by npyio; unicode payloads are decoded here.
func ParseNPY(data []byte) (*Array, error) {
	r, err := npyio.NewReader(bytes.NewReader(data))
	if err != nil {
		if len(data) < len(npyMagic)+4 {
			return nil, fmt.Errorf("%w: %v", ErrTruncatedNPYData, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidNPY, err)
	}

	a := &Array{
		DType:   r.Header.Descr.Type,
		Shape:   append([]int(nil), r.Header.Descr.Shape...),
		Fortran: r.Header.Descr.Fortran,
	}
	kind, size, err := dtype(a.DType)
	if err != nil {
		return nil, err
	}
	n, err := elementCount(a.Shape)
	if err != nil {
		return nil, err
	}
	body := data[dataOffset(data):]
	// Checked before any allocation, so a crafted shape cannot blow up.
	if n > len(body)/size {
		return nil, fmt.Errorf("%w: %d elements of %d bytes, have %d bytes", ErrTruncatedNPYData, n, size, len(body))
	}

	if kind == 'U' {
		a.values = decodeUnicode(body, a.DType[0], n, size)
		return a, nil
	}
	a.values, err = readValues(r.Read, kind, size, n)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// dataOffset returns where the payload of an NPY file starts. It is only
// called once npyio accepted the header, so the length field is present.
func dataOffset(data []byte) int {
	if data[6] == 1 {
		return min(len(data), 10+int(binary.LittleEndian.Uint16(data[8:10])))
	}
	return min(len(data), 12+int(binary.LittleEndian.Uint32(data[8:12])))
}

// ParseNPYFile parses an NPY file from disk.
func ParseNPYFile(path string) (*Array, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading NPY file: %w", err)
	}
	return ParseNPY(data)
}

// decodeUnicode splits fixed-width UTF-32 elements, trimming NUL padding.
func decodeUnicode(body []byte, order byte, n, size int) []string {
	var bo binary.ByteOrder = binary.LittleEndian
	if order == '>' {
		bo = binary.BigEndian
	}
	out := make([]string, n)
	for i := range out {
		elem := body[i*size : (i+1)*size]
		var sb strings.Builder
		for j := 0; j+4 <= len(elem); j += 4 {
			r := rune(bo.Uint32(elem[j:]))
			if r == 0 {
				break
			}
			sb.WriteRune(r)
		}
		out[i] = sb.String()
	}
	return out
}

// npyValue returns the value handed to npyio.Write. Two-dimensional arrays
// are written through a gonum matrix and therefore as float64.
func (a *Array) npyValue() (any, error) {
	if a.Fortran {
		return nil, fmt.Errorf("%w: writing Fortran order", ErrInvalidNPY)
	}
	switch len(a.Shape) {
	case 1:
		return a.values, nil
	case 2:
		vals, err := a.Float64s()
		if err != nil {
			return nil, err
		}
		return mat.NewDense(a.Shape[0], a.Shape[1], vals), nil
	default:
		return nil, fmt.Errorf("%w: cannot write shape %v", ErrInvalidNPY, a.Shape)
	}
}

// emptyMatrix reports whether a is two-dimensional with no elements, which
// a gonum matrix cannot hold.
func (a *Array) emptyMatrix() bool {
	return len(a.Shape) == 2 && a.Len() == 0
}

// WriteNPY writes a as an NPY file.
func WriteNPY(w io.Writer, a *Array) error {
	if vals, ok := a.values.([]string); ok {
		return writeUnicode(w, a.DType, vals)
	}
	if a.emptyMatrix() {
		_, err := w.Write(npyHeader("<f8", a.Shape))
		return err
	}
	v, err := a.npyValue()
	if err != nil {
		return err
	}
	return npyio.Write(w, v)
}

// npyHeader renders a version 1.0 header padded so the data starts on a
// 64-byte boundary.
func npyHeader(descr string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)

	total := len(npyMagic) + 4 + len(header) + 1
	if pad := (64 - total%64) % 64; pad > 0 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"

	buf := new(bytes.Buffer)
	buf.WriteString(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	return buf.Bytes()
}

// writeUnicode writes a one-dimensional "<U" array as UTF-32LE elements.
func writeUnicode(w io.Writer, descr string, vals []string) error {
	_, size, err := dtype(descr)
	if err != nil {
		return err
	}
	buf := bytes.NewBuffer(npyHeader(descr, []int{len(vals)}))

	elem := make([]byte, size)
	for _, s := range vals {
		clear(elem)
		off := 0
		for _, r := range s {
			if off+4 > size {
				break
			}
			binary.LittleEndian.PutUint32(elem[off:], uint32(r))
			off += 4
		}
		buf.Write(elem)
	}

	_, err = w.Write(buf.Bytes())
	return err
}

// Float32Array builds a one-dimensional "<f4" array.
func Float32Array(vals []float64) *Array {
	data := make([]float32, len(vals))
	for i, v := range vals {
		data[i] = float32(v)
	}
	return &Array{DType: "<f4", Shape: []int{len(vals)}, values: data}
}

// Float64Array builds a "<f8" array, one-dimensional unless shape is given.
func Float64Array(vals []float64, shape ...int) *Array {
	if len(shape) == 0 {
		shape = []int{len(vals)}
	}
	return &Array{DType: "<f8", Shape: shape, values: append([]float64(nil), vals...)}
}

// IndexArray builds a "<u2" array when every value fits 16 bits and a
// "<u4" array otherwise.
func IndexArray(vals []uint32) *Array {
	var maxVal uint32
	for _, v := range vals {
		maxVal = max(maxVal, v)
	}
	if maxVal <= math.MaxUint16 {
		data := make([]uint16, len(vals))
		for i, v := range vals {
			data[i] = uint16(v)
		}
		return &Array{DType: "<u2", Shape: []int{len(vals)}, values: data}
	}
	return Uint32Array(vals)
}

// Uint32Array builds a "<u4" array.
func Uint32Array(vals []uint32) *Array {
	return &Array{DType: "<u4", Shape: []int{len(vals)}, values: append([]uint32(nil), vals...)}
}

// StringArray builds a "<U" array wide enough for the longest string.
func StringArray(vals []string) *Array {
	width := 1
	for _, s := range vals {
		width = max(width, utf8.RuneCountInString(s))
	}
	return &Array{DType: "<U" + strconv.Itoa(width), Shape: []int{len(vals)}, values: append([]string(nil), vals...)}
}
