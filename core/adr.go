package core

/*------------------------------------------------------------------
 *
 * Purpose:	Adaptive Data Rate: per-peer spreading-factor
 *		recommendation with hysteresis, per spec §4.4/§4.6 and
 *		original_source/adr/adaptive_datarate.{h,cpp}.
 *
 * Description:	Each SF step corresponds to an (rssiThreshold,
 *		snrThreshold) pair; moving to a faster (lower) SF
 *		requires meeting both thresholds and clearing the RSSI
 *		threshold by at least ADRHysteresisDB (the SNR threshold
 *		takes no margin), moving to a slower (higher, safer) SF
 *		has no hysteresis. The negotiated SF for a peer is
 *		max(our recommendation, their advertised preference) so
 *		both ends stay audible to one another.
 *
 *------------------------------------------------------------------*/

// ADRThreshold pairs a spreading factor with the signal quality a
// node must clear to use it.
type ADRThreshold struct {
	RSSIThreshold int16
	SNRThreshold  int8
	SF            SpreadingFactor
}

// ADRThresholds is ordered fastest (SF7) to slowest (SF12), mirroring
// original_source's ADR_THRESHOLDS table. SF12 is the fallback when
// nothing else is met.
var ADRThresholds = []ADRThreshold{
	{RSSIThreshold: -70, SNRThreshold: 8, SF: 7},
	{RSSIThreshold: -85, SNRThreshold: 5, SF: 8},
	{RSSIThreshold: -100, SNRThreshold: 0, SF: 9},
	{RSSIThreshold: -110, SNRThreshold: -5, SF: 10},
	{RSSIThreshold: -120, SNRThreshold: -10, SF: 11},
	{RSSIThreshold: -140, SNRThreshold: -15, SF: 12},
}

// ADRHysteresisDB is the margin by which mean RSSI must clear a faster
// (lower) SF's RSSI threshold before the recommendation steps down to it.
const ADRHysteresisDB = 5

// PerPeerADR tracks the negotiated spreading factor for one peer.
type PerPeerADR struct {
	CurrentSF      SpreadingFactor
	RecommendedSF  SpreadingFactor
	PeerPreferred  SpreadingFactor
	PeerSFKnown    bool
	NegotiatedSF   SpreadingFactor
}

// NewPerPeerADR starts a peer at the slowest, most robust SF until
// enough history accumulates to recommend something faster.
func NewPerPeerADR() *PerPeerADR {
	return &PerPeerADR{
		CurrentSF:     SFMax,
		RecommendedSF: SFMax,
		NegotiatedSF:  SFMax,
	}
}

// thresholdFor returns the threshold row for a given SF.
func thresholdFor(sf SpreadingFactor) ADRThreshold {
	for _, t := range ADRThresholds {
		if t.SF == sf {
			return t
		}
	}
	return ADRThresholds[len(ADRThresholds)-1]
}

// sfIndex returns the position of sf within ADRThresholds, fastest first.
func sfIndex(sf SpreadingFactor) int {
	for i, t := range ADRThresholds {
		if t.SF == sf {
			return i
		}
	}
	return len(ADRThresholds) - 1
}

// Evaluate recomputes RecommendedSF from a neighbor's windowed RSSI/SNR
// averages, applying the hysteresis rule of spec §4.4/§8: stepping to
// a faster (lower-index) SF requires meeting that SF's thresholds with
// mean RSSI clearing its RSSI threshold by ADRHysteresisDB (no margin on
// SNR); stepping to a slower (higher-index, safer) SF needs no margin.
func (p *PerPeerADR) Evaluate(meanRSSI float64, meanSNR float64) {
	curIdx := sfIndex(p.RecommendedSF)

	// Find the fastest SF whose thresholds the measurements meet,
	// walking from fastest to slowest.
	bestIdx := len(ADRThresholds) - 1
	for i, t := range ADRThresholds {
		if meanRSSI >= float64(t.RSSIThreshold) && meanSNR >= float64(t.SNRThreshold) {
			bestIdx = i
			break
		}
	}

	switch {
	case bestIdx < curIdx:
		// Proposing a faster SF: require the margin.
		t := ADRThresholds[bestIdx]
		if meanRSSI >= float64(t.RSSIThreshold)+ADRHysteresisDB {
			p.RecommendedSF = t.SF
		}
	case bestIdx > curIdx:
		// Proposing a slower, safer SF: no hysteresis.
		p.RecommendedSF = ADRThresholds[bestIdx].SF
	}

	p.renegotiate()
}

// renegotiate recomputes the SF both sides must use: the weaker
// (numerically larger/slower) of our recommendation and the peer's
// advertised preference, so both ends remain audible.
func (p *PerPeerADR) renegotiate() {
	p.NegotiatedSF = p.RecommendedSF
	if p.PeerSFKnown && p.PeerPreferred > p.NegotiatedSF {
		p.NegotiatedSF = p.PeerPreferred
	}
}

// SetPeerPreference records the SF the peer advertised it wants to
// receive at (from its beacon/HELLO ADR advertisement).
func (p *PerPeerADR) SetPeerPreference(sf SpreadingFactor) {
	p.PeerPreferred = sf
	p.PeerSFKnown = true
	p.renegotiate()
}
