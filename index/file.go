package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// File layout, little-endian:
//
//	magic   [4]byte "VIBX"
//	version uint32
//	dim     uint32
//	rows    uint64
//	buildID [16]byte
//	data    [rows*dim]float32
var magic = [4]byte{'V', 'I', 'B', 'X'}

const (
	formatVersion uint32 = 1
	headerSize           = 4 + 4 + 4 + 8 + 16
)

// ErrCorrupt is returned when an index file cannot be decoded.
var ErrCorrupt = errors.New("index: corrupt index file")

type header struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Rows    uint64
	BuildID [16]byte
}

// WriteFile persists f to path. The file is written to a temporary sibling and
// renamed into place, so readers see either the old or the new index.
func WriteFile(path string, f *Flat, buildID uuid.UUID) error {
	tmp, err := Stage(path, f, buildID)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// Stage writes f to a new temporary file next to path and returns its name.
// The caller renames it into place or removes it.
func Stage(path string, f *Flat, buildID uuid.UUID) (name string, err error) {
	if f == nil {
		return "", errors.New("index: nil index")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp index file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	h := header{
		Magic:   magic,
		Version: formatVersion,
		Dim:     uint32(f.dim),
		Rows:    uint64(f.Len()),
		BuildID: buildID,
	}
	if err = binary.Write(w, binary.LittleEndian, h); err != nil {
		return "", fmt.Errorf("write index header: %w", err)
	}
	if err = binary.Write(w, binary.LittleEndian, f.data); err != nil {
		return "", fmt.Errorf("write index data: %w", err)
	}
	if err = w.Flush(); err != nil {
		return "", fmt.Errorf("flush index file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync index file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close index file: %w", err)
	}
	return tmp.Name(), nil
}

// ReadFile loads an index written by WriteFile and returns it read-only
// together with the build ID it was written with.
func ReadFile(path string) (*Frozen, uuid.UUID, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, uuid.Nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, uuid.Nil, err
	}
	return decode(bufio.NewReader(file), info.Size())
}

func decode(r io.Reader, size int64) (*Frozen, uuid.UUID, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return nil, uuid.Nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, uuid.Nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if h.Dim == 0 {
		return nil, uuid.Nil, fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}
	if h.Rows > uint64(math.MaxInt64-headerSize)/(4*uint64(h.Dim)) {
		return nil, uuid.Nil, fmt.Errorf("%w: %d rows of dim %d is too large", ErrCorrupt, h.Rows, h.Dim)
	}
	want := int64(headerSize) + int64(h.Rows)*int64(h.Dim)*4
	if size >= 0 && size != want {
		return nil, uuid.Nil, fmt.Errorf("%w: size %d, want %d for %d rows of dim %d", ErrCorrupt, size, want, h.Rows, h.Dim)
	}

	f := &Flat{dim: int(h.Dim), data: make([]float32, int(h.Rows)*int(h.Dim))}
	if err := binary.Read(r, binary.LittleEndian, f.data); err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: data: %v", ErrCorrupt, err)
	}
	return f.Freeze(), uuid.UUID(h.BuildID), nil
}
