package bayes

// Evidence channel names. Each channel produces a score in [0, 1] for a
// candidate message given the current query.
const (
	EvidenceSemantic    = "semantic"
	EvidenceTemporal    = "temporal"
	EvidenceEntity      = "entity"
	EvidenceTopic       = "topic"
	EvidenceInteraction = "interaction"
	EvidenceContinuity  = "continuity"
)

// Prior component names.
const (
	PriorImportance  = "importance"
	PriorMessageType = "message_type"
	PriorLength      = "length"
	PriorPosition    = "position"
	PriorUserMarked  = "user_marked"
)

// Weights holds the evidence and prior weight vectors. Likelihood and
// prior are plain weighted sums over these vectors, applied exactly as
// configured: raising one weight must never lower a score through
// rescaling of the others. Callers are expected to supply vectors that
// sum to 1; the posterior clamp absorbs vectors that do not.
type Weights struct {
	Evidence map[string]float64 `yaml:"evidence"`
	Priors   map[string]float64 `yaml:"priors"`
}

// DefaultWeights returns the stock weight vectors. Semantic similarity
// dominates the evidence; stored importance dominates the prior.
func DefaultWeights() Weights {
	return Weights{
		Evidence: map[string]float64{
			EvidenceSemantic:    0.35,
			EvidenceTemporal:    0.15,
			EvidenceEntity:      0.15,
			EvidenceTopic:       0.15,
			EvidenceInteraction: 0.10,
			EvidenceContinuity:  0.10,
		},
		Priors: map[string]float64{
			PriorImportance:  0.30,
			PriorMessageType: 0.20,
			PriorLength:      0.15,
			PriorPosition:    0.15,
			PriorUserMarked:  0.20,
		},
	}
}

// fillDefaults replaces nil or zero-sum vectors with the defaults. The
// configured values themselves are never touched.
func (w *Weights) fillDefaults() {
	w.Evidence = orDefault(w.Evidence, DefaultWeights().Evidence)
	w.Priors = orDefault(w.Priors, DefaultWeights().Priors)
}

func orDefault(m, fallback map[string]float64) map[string]float64 {
	var sum float64
	for _, v := range m {
		sum += v
	}
	if sum <= 0 {
		return fallback
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
