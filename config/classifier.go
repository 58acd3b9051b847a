package config

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/adamlounds/nightscout-tdd/models"
)

// classifierFile is the TOML layout of TDD_CLASSIFIER_FILE, eg
//
//	temp_basal = ["Temp Basal"]
//	bolus = ["Bolus", "Meal Bolus", "Correction Bolus"]
//	smb = ["SMB", "Automatic Bolus"]
//
// A missing or empty list keeps the default for that class, minus any kind
// listed explicitly elsewhere. A kind may belong to one class only.
type classifierFile struct {
	TempBasal []string `toml:"temp_basal"`
	Bolus     []string `toml:"bolus"`
	SMB       []string `toml:"smb"`
}

func LoadClassifier(path string) (models.Classifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Classifier{}, fmt.Errorf("LoadClassifier cannot read %s: %w", path, err)
	}
	return ParseClassifier(raw)
}

func ParseClassifier(raw []byte) (models.Classifier, error) {
	var f classifierFile
	decoder := toml.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		return models.Classifier{}, fmt.Errorf("ParseClassifier cannot decode: %w", err)
	}

	// a kind listed explicitly in one class leaves the defaults of the others
	def := models.DefaultClassifier()
	explicit := slices.Concat(f.TempBasal, f.Bolus, f.SMB)
	tempBasal, bolus, smb := f.TempBasal, f.Bolus, f.SMB
	if len(tempBasal) == 0 {
		tempBasal = defaultsWithout(def.TempBasalKinds, explicit)
	}
	if len(bolus) == 0 {
		bolus = defaultsWithout(def.BolusKinds, explicit)
	}
	if len(smb) == 0 {
		smb = defaultsWithout(def.SMBKinds, explicit)
	}

	classes := []struct {
		name  string
		kinds []string
	}{{"temp_basal", tempBasal}, {"bolus", bolus}, {"smb", smb}}
	for i, a := range classes {
		for _, b := range classes[i+1:] {
			for _, kind := range a.kinds {
				if slices.Contains(b.kinds, kind) {
					return models.Classifier{}, fmt.Errorf("ParseClassifier: %q is both %s and %s", kind, a.name, b.name)
				}
			}
		}
	}
	return models.NewClassifier(tempBasal, bolus, smb), nil
}

func defaultsWithout(set map[string]struct{}, exclude []string) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		if !slices.Contains(exclude, k) {
			out = append(out, k)
		}
	}
	return out
}
