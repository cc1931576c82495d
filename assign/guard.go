// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package assign

import (
	"math"

	"github.com/fumi-engineer/uota/tensor"
)

// sanitize replaces every non-finite entry of xs with the maximum finite
// value present. A first pass zeroes the non-finite entries so the
// maximum is not corrupted by them. If xs is entirely non-finite the
// maximum of the zeroed slice is 0 and every entry becomes 0.
func sanitize(xs []float32) {
	var bad []int
	for i, v := range xs {
		f := float64(v)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			xs[i] = 0
			bad = append(bad, i)
		}
	}
	if len(bad) == 0 {
		return
	}
	m := xs[0]
	for _, v := range xs[1:] {
		if v > m {
			m = v
		}
	}
	for _, i := range bad {
		xs[i] = m
	}
}

// ShootInfs sanitizes a tensor in place, replacing non-finite entries
// with the tensor's finite maximum, and returns it. Works on tensors of
// any rank; a tensor with no non-finite entries is returned unchanged.
// Idempotent: a second application is a no-op.
func ShootInfs(t *tensor.Tensor) *tensor.Tensor {
	sanitize(t.DataPtr())
	return t
}

// ShootInfsSlice sanitizes a bare vector in place and returns it. Used on
// the row-scaling factors inside the normalization loop, where a zero row
// sum divides to +Inf and must be substituted before the next multiply.
func ShootInfsSlice(xs []float32) []float32 {
	sanitize(xs)
	return xs
}
