// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

// TokenTotals is a running sum of the four token counters.
type TokenTotals struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

func (t *TokenTotals) add(d TokenTotals) {
	t.Input += d.Input
	t.Output += d.Output
	t.CacheRead += d.CacheRead
	t.CacheWrite += d.CacheWrite
}

// ModelTotals is the running sum for one model.
type ModelTotals struct {
	Model string `json:"model"`
	TokenTotals
}

// Usage accumulates token counts for one session: a session-level total
// plus per-model buckets in first-seen order. Sums are monotonically
// non-decreasing and reset only by an explicit session clear.
//
// This is a local optimistic projection built from streamed usage
// deltas. The agent's result events carry their own authoritative
// per-model figures; the two are separate data paths and are never
// reconciled against each other.
type Usage struct {
	Totals TokenTotals   `json:"totals"`
	Models []ModelTotals `json:"models,omitempty"`
}

// Accrue adds a delta to the session total and the matching model
// bucket, creating the bucket on first occurrence.
func (u *Usage) Accrue(model string, d TokenTotals) {
	u.Totals.add(d)

	for i := range u.Models {
		if u.Models[i].Model == model {
			u.Models[i].add(d)
			return
		}
	}
	u.Models = append(u.Models, ModelTotals{Model: model, TokenTotals: d})
}

// snapshot returns a deep copy safe to hand outside the Store lock.
func (u *Usage) snapshot() Usage {
	out := Usage{Totals: u.Totals}
	if len(u.Models) > 0 {
		out.Models = make([]ModelTotals, len(u.Models))
		copy(out.Models, u.Models)
	}
	return out
}
