// Package safetensors reads and writes the tensor files the CLI exchanges
// operands and results through.
package safetensors

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// maxHeaderLen bounds the JSON header so a corrupt length cannot trigger a
// huge allocation.
const maxHeaderLen = 100 << 20

// ErrCorruptFile marks structurally invalid files.
var ErrCorruptFile = errors.New("safetensors: corrupt file")

// TensorInfo locates one tensor inside the data section.
type TensorInfo struct {
	Name  string
	DType dtype.DType
	Shape []int
	Start int64
	End   int64
}

// File is an opened safetensors file. Close releases the mapping.
type File struct {
	Path     string
	Metadata map[string]string

	data      []byte
	dataStart int
	tensors   map[string]TensorInfo
	mmapped   bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps path read-only, falling back to a plain read where mmap is
// unavailable, and validates the header against the data section.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%s: %w: size %d", path, ErrCorruptFile, size64)
	}
	size := int(size64)

	mmapped := true
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		mmapped = false
		data = make([]byte, size)
		if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	sf, err := parse(path, data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	sf.mmapped = mmapped
	return sf, nil
}

func parse(path string, data []byte) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%s: %w: header length %d", path, ErrCorruptFile, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}

	sf := &File{
		Path:      path,
		data:      data,
		dataStart: 8 + int(headerLen),
		tensors:   make(map[string]TensorInfo, len(raw)),
	}
	dataLen := int64(len(data) - sf.dataStart)

	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &sf.Metadata); err != nil {
			return nil, fmt.Errorf("%s: parse metadata: %w", path, err)
		}
		delete(raw, "__metadata__")
	}
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		dt, ok := dtype.FromSafetensors(th.DType)
		if !ok {
			return nil, fmt.Errorf("tensor %s: %w", name, &tensor.DTypeError{Op: "safetensors", What: th.DType, Got: dtype.Invalid})
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: %w: invalid data_offsets", name, ErrCorruptFile)
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start || end > dataLen {
			return nil, fmt.Errorf("tensor %s: %w: offsets [%d, %d) outside data of %d bytes", name, ErrCorruptFile, start, end, dataLen)
		}
		n, err := tensor.NumElements(th.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if int64(n)*int64(dt.Size()) != end-start {
			return nil, fmt.Errorf("tensor %s: %w: %s%v needs %d bytes, has %d", name, ErrCorruptFile, dt, th.Shape, n*dt.Size(), end-start)
		}
		sf.tensors[name] = TensorInfo{Name: name, DType: dt, Shape: th.Shape, Start: start, End: end}
	}
	return sf, nil
}

// Close unmaps the file. Tensors returned earlier stay valid.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	return err
}

// Names lists the tensors in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *File) Info(name string) (TensorInfo, bool) {
	t, ok := f.tensors[name]
	return t, ok
}

// Tensor copies the named tensor out of the file.
func (f *File) Tensor(name string) (*tensor.Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	if f.data == nil {
		return nil, fmt.Errorf("read tensor %s: file closed", name)
	}
	raw := slices.Clone(f.data[f.dataStart+int(info.Start) : f.dataStart+int(info.End)])
	return tensor.FromRaw(info.DType, info.Shape, raw)
}

// Write stores tensors at path. Tensors are laid out in name order so the
// output is reproducible.
func Write(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := Encode(w, tensors, metadata); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Encode writes the safetensors encoding of tensors to w.
func Encode(w io.Writer, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == "__metadata__" {
			return fmt.Errorf("safetensors: reserved tensor name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		tag := t.DType.SafetensorsName()
		if tag == "" {
			return fmt.Errorf("tensor %s: %w", name, &tensor.DTypeError{Op: "safetensors", What: "element type", Got: t.DType})
		}
		end := offset + int64(len(t.Raw))
		header[name] = tensorHeader{DType: tag, Shape: t.Shape, DataOffsets: []int64{offset, end}}
		offset = end
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Pad with spaces so the data section starts 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Raw); err != nil {
			return err
		}
	}
	return nil
}
