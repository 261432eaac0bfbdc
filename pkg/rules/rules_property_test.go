//go:build property
// +build property

package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// Property: Decode(Encode(c)) preserves every rule set and threshold.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("rule sets survive a round trip", prop.ForAll(
		func(chain, network string, groups []string, mins []uint8, ts int64) bool {
			var seq SequentialThresholds
			for i, g := range groups {
				min := 0
				if i < len(mins) {
					min = int(mins[i])
				}
				seq.Thresholds = append(seq.Thresholds, GroupThreshold{GroupID: g, MinimumSignatures: min})
			}
			in := &DecodedRulesContainer{
				AddressWhitelistingRules: []RuleSet{{
					Blockchain:         chain,
					Network:            network,
					ParallelThresholds: ParallelThresholds{seq},
				}},
				Timestamp: ts,
			}
			raw, err := Encode(in)
			if err != nil {
				return false
			}
			out, err := DecodeBytes(raw)
			if err != nil || len(out.AddressWhitelistingRules) != 1 {
				return false
			}
			rs := out.AddressWhitelistingRules[0]
			if rs.Blockchain != chain || rs.Network != network || out.Timestamp != ts {
				return false
			}
			if len(seq.Thresholds) == 0 {
				return len(rs.ParallelThresholds) == 1 && len(rs.ParallelThresholds[0].Thresholds) == 0
			}
			got := rs.ParallelThresholds[0].Thresholds
			if len(got) != len(seq.Thresholds) {
				return false
			}
			for i := range got {
				if got[i] != seq.Thresholds[i] {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.UInt8()),
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}

// Property: arbitrary bytes never panic and failures are always IntegrityErrors.
func TestDecodeBytesFailsClosed(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("garbage is rejected with a typed error", prop.ForAll(
		func(data []byte) bool {
			c, err := DecodeBytes(data)
			if err != nil {
				return c == nil && verrors.IsIntegrity(err)
			}
			return c != nil
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
