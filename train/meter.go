// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

// AverageMeter tracks the latest value and a running average, used for
// per-epoch loss statistics.
type AverageMeter struct {
	val   float64
	sum   float64
	count int
}

// Update records a value observed over n samples.
func (m *AverageMeter) Update(val float64, n int) {
	m.val = val
	m.sum += val * float64(n)
	m.count += n
}

// Val returns the most recently recorded value.
func (m *AverageMeter) Val() float64 { return m.val }

// Avg returns the sample-weighted running average.
func (m *AverageMeter) Avg() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Reset clears the meter for a new epoch.
func (m *AverageMeter) Reset() {
	m.val, m.sum, m.count = 0, 0, 0
}
