// Package counters is the per-experiment post-processing hook applied to
// a scan's assembled row table before persistence. Hooks may derive or
// override counters; they never see offsets or scan status.
package counters

import (
	"fmt"
	"os"

	"github.com/beamline-tools/specmeta/internal/domain"
	"gopkg.in/yaml.v3"
)

// Hook derives or overrides counters on a materialized scan table.
type Hook interface {
	Apply(scanNumber int64, table *domain.ScanTable) error
}

// NopHook leaves every table unchanged.
type NopHook struct{}

func (NopHook) Apply(int64, *domain.ScanTable) error { return nil }

// counterDef is one derived counter in the YAML definition file:
//
//	counters:
//	  - name: norm
//	    op: ratio
//	    a: detector
//	    b: monitor
//	  - name: dose
//	    op: scale
//	    a: monitor
//	    value: 0.125
type counterDef struct {
	Name  string  `yaml:"name"`
	Op    string  `yaml:"op"` // ratio, product, sum, diff, scale
	A     string  `yaml:"a"`
	B     string  `yaml:"b"`
	Value float64 `yaml:"value"`
}

type hookFile struct {
	Counters []counterDef `yaml:"counters"`
}

// ExprHook computes derived counters from simple arithmetic over base
// columns, configured from a YAML file.
type ExprHook struct {
	defs []counterDef
}

// Load reads a counter definition file.
func Load(path string) (*ExprHook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read counter definitions: %w", err)
	}

	var hf hookFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("failed to parse counter definitions: %w", err)
	}

	for _, d := range hf.Counters {
		if d.Name == "" || d.A == "" {
			return nil, fmt.Errorf("counter definition needs at least name and a")
		}
		switch d.Op {
		case "ratio", "product", "sum", "diff":
			if d.B == "" {
				return nil, fmt.Errorf("counter %q: op %s needs b", d.Name, d.Op)
			}
		case "scale":
		default:
			return nil, fmt.Errorf("counter %q: unknown op %q", d.Name, d.Op)
		}
	}

	return &ExprHook{defs: hf.Counters}, nil
}

// Apply computes every defined counter. A definition referring to a
// column the scan does not have is an error; the caller decides whether
// that degrades or fails the scan.
func (h *ExprHook) Apply(scanNumber int64, table *domain.ScanTable) error {
	for _, d := range h.defs {
		a, err := table.Column(d.A)
		if err != nil {
			return fmt.Errorf("counter %q for scan %d: %w", d.Name, scanNumber, err)
		}

		out := make([]float64, len(a))
		switch d.Op {
		case "scale":
			for i, v := range a {
				out[i] = v * d.Value
			}
		default:
			b, err := table.Column(d.B)
			if err != nil {
				return fmt.Errorf("counter %q for scan %d: %w", d.Name, scanNumber, err)
			}
			for i := range a {
				switch d.Op {
				case "ratio":
					out[i] = a[i] / b[i]
				case "product":
					out[i] = a[i] * b[i]
				case "sum":
					out[i] = a[i] + b[i]
				case "diff":
					out[i] = a[i] - b[i]
				}
			}
		}

		// A derived counter may override an existing column.
		if err := table.ReplaceColumn(d.Name, out); err != nil {
			if err := table.AddColumn(d.Name, out); err != nil {
				return fmt.Errorf("counter %q for scan %d: %w", d.Name, scanNumber, err)
			}
		}
	}
	return nil
}
