// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint saves and loads layer parameters in the .strand
// binary format.
//
// The format stores a JSON tensor index plus raw tensor data, guarded
// by a SHA-256 checksum:
//
//	dict := checkpoint.StateDict(layer.Parameters())
//	if err := checkpoint.Save("model.strand", dict, "gru", nil); err != nil {
//	    log.Fatal(err)
//	}
//
//	loaded, _, err := checkpoint.Load("model.strand")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := checkpoint.Restore(layer.Parameters(), loaded); err != nil {
//	    log.Fatal(err)
//	}
package checkpoint

import (
	"io"

	"github.com/strandml/strand/internal/checkpoint"
	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/tensor"
)

// Header is the JSON metadata block of a .strand file.
type Header = checkpoint.Header

// TensorMeta describes one tensor in the data section.
type TensorMeta = checkpoint.TensorMeta

// Common errors.
var (
	ErrInvalidMagic       = checkpoint.ErrInvalidMagic
	ErrUnsupportedVersion = checkpoint.ErrUnsupportedVersion
	ErrChecksumMismatch   = checkpoint.ErrChecksumMismatch
	ErrTensorMissing      = checkpoint.ErrTensorMissing
)

// StateDict collects the parameters of a layer into a name-to-tensor
// map suitable for Save.
func StateDict(params []*rnn.Parameter) map[string]*tensor.RawTensor {
	return checkpoint.StateDict(params)
}

// Restore copies saved tensors back into the given parameters.
func Restore(params []*rnn.Parameter, stateDict map[string]*tensor.RawTensor) error {
	return checkpoint.Restore(params, stateDict)
}

// Save writes a state dictionary to a .strand file.
func Save(path string, stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	return checkpoint.Save(path, stateDict, modelType, metadata)
}

// Load reads a state dictionary from a .strand file.
func Load(path string) (map[string]*tensor.RawTensor, *Header, error) {
	return checkpoint.Load(path)
}

// WriteTo writes a state dictionary to an io.Writer in .strand format.
func WriteTo(w io.Writer, stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	return checkpoint.WriteTo(w, stateDict, modelType, metadata)
}

// ReadFrom reads a .strand state dictionary from an io.Reader.
func ReadFrom(r io.Reader) (map[string]*tensor.RawTensor, *Header, error) {
	return checkpoint.ReadFrom(r)
}
