package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamlounds/nightscout-tdd/models"
)

func classOf(c models.Classifier, kind string) models.DoseClass {
	return c.Classify(models.TreatmentEvent{Kind: kind, Insulin: models.Float(1), Rate: models.Float(1)})
}

func TestParseClassifier(t *testing.T) {
	tests := []struct {
		name  string
		toml  string
		check map[string]models.DoseClass
	}{
		{
			name: "empty file keeps defaults",
			toml: ``,
			check: map[string]models.DoseClass{
				"Temp Basal":   models.ClassBasal,
				"Meal Bolus":   models.ClassBolus,
				"Bolus Wizard": models.ClassBolus,
				"SMB":          models.ClassSMB,
			},
		},
		{
			name: "smb override moves a kind out of the default bolus list",
			toml: `smb = ["SMB", "Bolus Wizard"]`,
			check: map[string]models.DoseClass{
				"Bolus Wizard":     models.ClassSMB,
				"Microbolus":       models.ClassIgnored,
				"Correction Bolus": models.ClassBolus,
			},
		},
		{
			name: "temp_basal override moves a kind out of the default bolus list",
			toml: `temp_basal = ["Temp Basal", "Combo Bolus"]`,
			check: map[string]models.DoseClass{
				"Combo Bolus": models.ClassBasal,
				"Meal Bolus":  models.ClassBolus,
				"SMB":         models.ClassSMB,
			},
		},
		{
			name: "every list replaced",
			toml: "temp_basal = [\"TempBasal\"]\nbolus = [\"Insulin\"]\nsmb = [\"Auto\"]\n",
			check: map[string]models.DoseClass{
				"TempBasal":  models.ClassBasal,
				"Temp Basal": models.ClassIgnored,
				"Insulin":    models.ClassBolus,
				"Bolus":      models.ClassIgnored,
				"Auto":       models.ClassSMB,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseClassifier([]byte(tt.toml))
			require.NoError(t, err)
			for kind, want := range tt.check {
				assert.Equal(t, want, classOf(c, kind), kind)
			}
		})
	}
}

func TestParseClassifier_Errors(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{name: "not toml", toml: `smb = [`},
		{name: "unknown key", toml: `boluses = ["Bolus"]`},
		{name: "kind in bolus and smb", toml: "bolus = [\"SMB\"]\nsmb = [\"SMB\"]"},
		{name: "kind in temp_basal and bolus", toml: "temp_basal = [\"Bolus\"]\nbolus = [\"Bolus\"]"},
		{name: "kind in temp_basal and smb", toml: "temp_basal = [\"SMB\"]\nsmb = [\"SMB\", \"Microbolus\"]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClassifier([]byte(tt.toml))
			assert.Error(t, err)
		})
	}
}
