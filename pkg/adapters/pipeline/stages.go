package pipeline

import (
	"math"

	"github.com/michaelpoluektov/dspd/internal/domain"
)

// kernelFunc processes one block. in holds one slice per input edge,
// out one preallocated slice per output edge; all slices share the
// same frame count.
type kernelFunc func(params map[string]any, in, out [][]float64, sampleRate int) error

// paramField describes a single parameter of a stage type.
type paramField struct {
	kind    string // "number" or "string"
	def     any
	enum    []string
	minimum *float64
}

// stageDef is one entry of the closed stage registry: arity contract,
// parameter fields (nil for parameterless stages) and the processing
// kernel.
type stageDef struct {
	name   string
	arity  func(in, out int) error
	fields map[string]paramField
	order  []string // schema property order
	kernel kernelFunc
}

func exactArity(in, out int) func(int, int) error {
	return func(haveIn, haveOut int) error {
		if haveIn != in || haveOut != out {
			return domain.Validationf("expected %d input(s) and %d output(s), got %d and %d",
				in, out, haveIn, haveOut)
		}
		return nil
	}
}

func stageDefs() map[string]*stageDef {
	return map[string]*stageDef{
		"gain": {
			name:  "gain",
			arity: exactArity(1, 1),
			fields: map[string]paramField{
				"gain_db": {kind: "number", def: 0.0},
			},
			order:  []string{"gain_db"},
			kernel: gainKernel,
		},
		"biquad": {
			name:  "biquad",
			arity: exactArity(1, 1),
			fields: map[string]paramField{
				"filter_type": {kind: "string", def: "lowpass", enum: []string{"lowpass", "highpass"}},
				"cutoff_hz":   {kind: "number", def: 1000.0, minimum: ptr(1.0)},
				"q":           {kind: "number", def: 0.707, minimum: ptr(0.01)},
			},
			order:  []string{"filter_type", "cutoff_hz", "q"},
			kernel: biquadKernel,
		},
		"mix": {
			name: "mix",
			arity: func(in, out int) error {
				if in < 1 || out != 1 {
					return domain.Validationf("expected at least 1 input and exactly 1 output, got %d and %d", in, out)
				}
				return nil
			},
			fields: map[string]paramField{
				"gain_db": {kind: "number", def: 0.0},
			},
			order:  []string{"gain_db"},
			kernel: mixKernel,
		},
		"fork": {
			name: "fork",
			arity: func(in, out int) error {
				if in != 1 || out < 1 {
					return domain.Validationf("expected exactly 1 input and at least 1 output, got %d and %d", in, out)
				}
				return nil
			},
			kernel: forkKernel,
		},
	}
}

func ptr(v float64) *float64 { return &v }

// newParams constructs a fresh parameter object of the stage's own
// type: defaults filled, supplied values validated, unknown keys
// rejected.
func (d *stageDef) newParams(values map[string]any) (map[string]any, error) {
	if d.fields == nil {
		return nil, nil
	}
	out := make(map[string]any, len(d.fields))
	for name, field := range d.fields {
		out[name] = field.def
	}
	for name, v := range values {
		field, ok := d.fields[name]
		if !ok {
			return nil, domain.Validationf("stage %q has no parameter %q", d.name, name)
		}
		checked, err := field.check(v)
		if err != nil {
			return nil, domain.Validationf("stage %q parameter %q", d.name, name).WithDetail("%v", err)
		}
		out[name] = checked
	}
	return out, nil
}

func (f paramField) check(v any) (any, error) {
	switch f.kind {
	case "number":
		n, ok := asNumber(v)
		if !ok {
			return nil, domain.Validationf("expected a number, got %T", v)
		}
		if f.minimum != nil && n < *f.minimum {
			return nil, domain.Validationf("must be >= %g, got %g", *f.minimum, n)
		}
		return n, nil
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, domain.Validationf("expected a string, got %T", v)
		}
		for _, allowed := range f.enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, domain.Validationf("must be one of %v, got %q", f.enum, s)
	}
	return nil, domain.Validationf("unknown parameter kind %q", f.kind)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// schema renders the parameter object's JSON schema for UI editors.
func (d *stageDef) schema() map[string]any {
	if d.fields == nil {
		return nil
	}
	props := make(map[string]any, len(d.fields))
	for _, name := range d.order {
		field := d.fields[name]
		p := map[string]any{"type": field.kind, "default": field.def}
		if len(field.enum) > 0 {
			p["enum"] = field.enum
		}
		if field.minimum != nil {
			p["minimum"] = *field.minimum
		}
		props[name] = p
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

func gainKernel(params map[string]any, in, out [][]float64, _ int) error {
	scale := dbToLinear(params["gain_db"].(float64))
	for f, v := range in[0] {
		out[0][f] = v * scale
	}
	return nil
}

func mixKernel(params map[string]any, in, out [][]float64, _ int) error {
	scale := dbToLinear(params["gain_db"].(float64))
	for f := range out[0] {
		sum := 0.0
		for _, ch := range in {
			sum += ch[f]
		}
		out[0][f] = sum * scale
	}
	return nil
}

func forkKernel(_ map[string]any, in, out [][]float64, _ int) error {
	for _, dst := range out {
		copy(dst, in[0])
	}
	return nil
}

// biquadKernel applies a second-order IIR filter with RBJ cookbook
// coefficients, direct form I.
func biquadKernel(params map[string]any, in, out [][]float64, sampleRate int) error {
	filterType := params["filter_type"].(string)
	cutoff := params["cutoff_hz"].(float64)
	q := params["q"].(float64)

	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	var b0, b1, b2 float64
	switch filterType {
	case "lowpass":
		b0 = (1 - cosW0) / 2
		b1 = 1 - cosW0
		b2 = (1 - cosW0) / 2
	case "highpass":
		b0 = (1 + cosW0) / 2
		b1 = -(1 + cosW0)
		b2 = (1 + cosW0) / 2
	default:
		return domain.Validationf("unknown filter type %q", filterType)
	}
	a0 := 1 + alpha
	a1 := -2 * cosW0
	a2 := 1 - alpha

	var x1, x2, y1, y2 float64
	for f, x := range in[0] {
		y := (b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2) / a0
		x2, x1 = x1, x
		y2, y1 = y1, y
		out[0][f] = y
	}
	return nil
}
