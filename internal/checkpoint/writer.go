package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/strandml/strand/internal/tensor"
)

// WriteTo writes a state dictionary to an io.Writer in .strand format.
//
// The state dictionary maps parameter names to tensors. Tensors are
// written in sorted name order so identical state produces identical
// bytes.
func WriteTo(w io.Writer, stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	header := Header{
		FormatVersion: FormatVersion,
		ModelType:     modelType,
		CreatedAt:     time.Now().UTC(),
		Tensors:       make([]TensorMeta, 0, len(stateDict)),
		Metadata:      metadata,
	}

	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	var offset int64
	var dataBuf []byte
	for _, name := range names {
		raw := stateDict[name]
		size := int64(raw.NumElements() * raw.DType().Size())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtypeToString(raw.DType()),
			Shape:  []int(raw.Shape()),
			Offset: offset,
			Size:   size,
		})
		offset += size
		dataBuf = append(dataBuf, raw.Bytes()...)
	}

	checksum := sha256.Sum256(dataBuf)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	var flags uint32
	if _, ok := metadata["optimizer"]; ok {
		flags |= FlagHasOptimizer
	}
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(dataBuf)))
	copy(fixed[ChecksumOffset:ChecksumOffset+sha256.Size], checksum[:])

	if _, err := w.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	pos := int64(FixedHeaderSize) + int64(len(headerJSON))
	if padding := (DataAlignment - pos%DataAlignment) % DataAlignment; padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}
	if _, err := w.Write(dataBuf); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// Save writes a state dictionary to a .strand file.
func Save(path string, stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteTo(file, stateDict, modelType, metadata); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
