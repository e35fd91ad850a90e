package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_PerPeerADR_starts_at_slowest_safest_SF(t *testing.T) {
	p := NewPerPeerADR()
	assert.Equal(t, SFMax, p.CurrentSF)
	assert.Equal(t, SFMax, p.NegotiatedSF)
}

func Test_PerPeerADR_steps_down_to_slower_SF_without_hysteresis(t *testing.T) {
	p := NewPerPeerADR()
	p.RecommendedSF = 9 // pretend we'd already climbed to SF9

	// Signal only meets the SF10 threshold: stepping to a slower SF
	// needs no margin, so it should apply immediately.
	p.Evaluate(-105, -2)
	assert.Equal(t, SpreadingFactor(10), p.RecommendedSF)
}

func Test_PerPeerADR_requires_hysteresis_margin_to_step_up_to_faster_SF(t *testing.T) {
	p := NewPerPeerADR()
	p.RecommendedSF = 9

	// SF8's threshold is RSSI >= -85; clearing it by less than
	// ADRHysteresisDB must not step to the faster SF yet.
	p.Evaluate(-83, 6)
	assert.Equal(t, SpreadingFactor(9), p.RecommendedSF, "2dB of margin is short of the 5dB hysteresis")

	// Clearing the threshold by the full hysteresis margin does step up.
	p.Evaluate(-80, 6)
	assert.Equal(t, SpreadingFactor(8), p.RecommendedSF)
}

func Test_PerPeerADR_falls_back_to_slowest_SF_when_no_threshold_met(t *testing.T) {
	p := NewPerPeerADR()
	p.RecommendedSF = 7

	p.Evaluate(-200, -50)
	assert.Equal(t, SpreadingFactor(12), p.RecommendedSF)
}

func Test_PerPeerADR_negotiates_slower_of_recommended_and_peer_preference(t *testing.T) {
	p := NewPerPeerADR()
	p.RecommendedSF = 8

	p.SetPeerPreference(11)
	assert.Equal(t, SpreadingFactor(11), p.NegotiatedSF, "negotiation must favor the weaker (slower) SF of the two")
}

func Test_PerPeerADR_negotiation_updates_after_later_evaluation(t *testing.T) {
	p := NewPerPeerADR()
	p.SetPeerPreference(7)
	p.RecommendedSF = 7

	p.Evaluate(-200, -50) // signal collapses, recommend SF12
	assert.Equal(t, SpreadingFactor(12), p.NegotiatedSF, "our own slower recommendation must win once it is slower than the peer's")
}
