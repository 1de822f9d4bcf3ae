// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import "math"

// Reward is the computed payout for one contributor:
// amount × (ratio / 100).
type Reward struct {
	Contributor
	Amount float64 `json:"amount"`
}

// ComputeRewards splits a total amount across contributors by their ratio.
// Ratios are expected to sum to 100 but that is the service's
// responsibility; skewed totals are computed as-is and reported through
// RatioSum so callers can log the deviation.
func ComputeRewards(contributors []Contributor, amount float64) (rewards []Reward, ratioSum float64) {
	rewards = make([]Reward, 0, len(contributors))
	for _, c := range contributors {
		ratioSum += c.Ratio
		rewards = append(rewards, Reward{
			Contributor: c,
			Amount:      amount * c.Ratio / 100,
		})
	}
	return rewards, ratioSum
}

// RatioSumSkewed reports whether the contributors' ratios deviate from 100%
// beyond rounding noise.
func RatioSumSkewed(ratioSum float64) bool {
	return math.Abs(ratioSum-100) > 0.01
}
