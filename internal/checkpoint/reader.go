package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/strandml/strand/internal/tensor"
)

// ReadFrom reads a .strand state dictionary from an io.Reader.
//
// The whole data section is read into memory and validated against the
// stored checksum before any tensor is materialized.
func ReadFrom(r io.Reader) (map[string]*tensor.RawTensor, *Header, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	if headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}
	var checksum [sha256.Size]byte
	copy(checksum[:], fixed[ChecksumOffset:ChecksumOffset+sha256.Size])

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	pos := int64(FixedHeaderSize) + int64(headerSize)
	if padding := (DataAlignment - pos%DataAlignment) % DataAlignment; padding > 0 {
		if _, err := io.CopyN(io.Discard, r, padding); err != nil {
			return nil, nil, fmt.Errorf("failed to skip padding: %w", err)
		}
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if sha256.Sum256(data) != checksum {
		return nil, nil, ErrChecksumMismatch
	}

	stateDict := make(map[string]*tensor.RawTensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		dtype, ok := dtypeFromString(meta.DType)
		if !ok {
			return nil, nil, fmt.Errorf("tensor %q: unsupported dtype %q", meta.Name, meta.DType)
		}
		if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > int64(len(data)) {
			return nil, nil, fmt.Errorf("%w: tensor %q", ErrOutOfBounds, meta.Name)
		}
		raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dtype, tensor.CPU)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		if want := int64(raw.NumElements() * dtype.Size()); want != meta.Size {
			return nil, nil, fmt.Errorf("tensor %q: size %d does not match shape %v", meta.Name, meta.Size, meta.Shape)
		}
		copy(raw.Bytes(), data[meta.Offset:meta.Offset+meta.Size])
		stateDict[meta.Name] = raw
	}
	return stateDict, &header, nil
}

// Load reads a state dictionary from a .strand file.
func Load(path string) (map[string]*tensor.RawTensor, *Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return ReadFrom(file)
}

// LoadBytes reads a state dictionary from an in-memory .strand image.
func LoadBytes(data []byte) (map[string]*tensor.RawTensor, *Header, error) {
	return ReadFrom(bytes.NewReader(data))
}
