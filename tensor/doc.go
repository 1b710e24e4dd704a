// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the tensor types used by the recurrent
// layers: shapes, raw tensors, element types, and the compute backend
// interface.
//
// Tensors are dense, contiguous, and row-major. Sequences are stored
// time-major as (time, batch, feature). There is no autodiff tape; the
// fused kernels in this module record their own backward state.
package tensor
