package contract

import "fmt"

// UpgradeStep is one declarative payload transformation. Exactly one of the
// operations is set. In YAML:
//
//	upgrade:
//	  - add_field: {name: plan, default: free}
//	  - rename_field: {from: mail, to: email}
//	  - remove_field: legacy_flag
type UpgradeStep struct {
	AddField    *AddField    `yaml:"add_field,omitempty" json:"add_field,omitempty"`
	RenameField *RenameField `yaml:"rename_field,omitempty" json:"rename_field,omitempty"`
	RemoveField string       `yaml:"remove_field,omitempty" json:"remove_field,omitempty"`
}

// AddField sets Name to Default when the payload lacks it.
type AddField struct {
	Name    string      `yaml:"name" json:"name"`
	Default interface{} `yaml:"default" json:"default"`
}

// RenameField moves From to To. Payloads without From are left untouched.
type RenameField struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

func (s UpgradeStep) Validate() error {
	ops := 0
	if s.AddField != nil {
		ops++
		if s.AddField.Name == "" {
			return fmt.Errorf("add_field: name is required")
		}
	}
	if s.RenameField != nil {
		ops++
		if s.RenameField.From == "" || s.RenameField.To == "" {
			return fmt.Errorf("rename_field: from and to are required")
		}
	}
	if s.RemoveField != "" {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("upgrade step must declare exactly one operation, got %d", ops)
	}
	return nil
}

// apply mutates data in place.
func (s UpgradeStep) apply(data map[string]interface{}) {
	switch {
	case s.AddField != nil:
		if _, ok := data[s.AddField.Name]; !ok {
			data[s.AddField.Name] = s.AddField.Default
		}
	case s.RenameField != nil:
		if v, ok := data[s.RenameField.From]; ok {
			data[s.RenameField.To] = v
			delete(data, s.RenameField.From)
		}
	case s.RemoveField != "":
		delete(data, s.RemoveField)
	}
}

// ApplyUpgrade runs steps over a shallow copy of data and returns the copy.
func ApplyUpgrade(steps []UpgradeStep, data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+len(steps))
	for k, v := range data {
		out[k] = v
	}
	for _, step := range steps {
		step.apply(out)
	}
	return out
}
