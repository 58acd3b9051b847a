package models

// DoseClass is the TDD bucket a treatment contributes to.
type DoseClass int

const (
	ClassIgnored DoseClass = iota
	ClassBolus
	ClassSMB
	ClassBasal
)

func (c DoseClass) String() string {
	switch c {
	case ClassBolus:
		return "bolus"
	case ClassSMB:
		return "smb"
	case ClassBasal:
		return "basal"
	default:
		return "ignored"
	}
}

// Classifier maps eventType strings to dose classes. Membership is exact and
// case-sensitive, "SMB Correction" is not an SMB.
type Classifier struct {
	TempBasalKinds map[string]struct{}
	BolusKinds     map[string]struct{}
	SMBKinds       map[string]struct{}
}

func kindSet(kinds ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

// NewClassifier builds a classifier from explicit kind lists.
func NewClassifier(tempBasal, bolus, smb []string) Classifier {
	return Classifier{
		TempBasalKinds: kindSet(tempBasal...),
		BolusKinds:     kindSet(bolus...),
		SMBKinds:       kindSet(smb...),
	}
}

// DefaultClassifier returns the classifier used when no override is
// configured. Each call builds fresh sets, so callers may modify the result.
func DefaultClassifier() Classifier {
	return NewClassifier(
		[]string{KindTempBasal},
		[]string{KindBolus, KindCorrectionBolus, KindMealBolus, KindSnackBolus, KindExtendedBolus, KindComboBolus, KindBolusWizard},
		[]string{KindSMB, KindMicrobolus, KindSuperMicroBolus, KindAutomaticBolus},
	)
}

// IsZero reports whether no kinds are configured at all.
func (c Classifier) IsZero() bool {
	return len(c.TempBasalKinds) == 0 && len(c.BolusKinds) == 0 && len(c.SMBKinds) == 0
}

func (c Classifier) IsTempBasal(e TreatmentEvent) bool {
	_, ok := c.TempBasalKinds[e.Kind]
	return ok
}

// Classify decides which bucket e feeds. Temp basals are always ClassBasal,
// their contribution comes from interval splitting and never from an insulin
// field. Boluses need a positive insulin amount.
func (c Classifier) Classify(e TreatmentEvent) DoseClass {
	if c.IsTempBasal(e) {
		return ClassBasal
	}
	if e.InsulinUnits() <= 0 {
		return ClassIgnored
	}
	if _, ok := c.SMBKinds[e.Kind]; ok {
		return ClassSMB
	}
	if _, ok := c.BolusKinds[e.Kind]; ok {
		return ClassBolus
	}
	return ClassIgnored
}
