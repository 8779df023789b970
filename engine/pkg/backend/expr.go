package backend

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expression operators.
const (
	OpBand  = "band"
	OpProp  = "prop"
	OpConst = "const"
	OpAdd   = "add"
	OpSub   = "sub"
	OpMul   = "mul"
	OpDiv   = "div"
	OpGTE   = "gte"
	OpMask  = "mask"
)

// Expr is a per-pixel band expression. It is plain data so that remote
// backends can receive it as JSON and evaluate it server side.
type Expr struct {
	Op    string   `json:"op"`
	Name  string   `json:"name,omitempty"`
	Value *float64 `json:"value,omitempty"`
	Args  []Expr   `json:"args,omitempty"`
}

func BandRef(name string) Expr { return Expr{Op: OpBand, Name: name} }

// Prop reads a numeric image property, broadcast to every pixel.
func Prop(name string) Expr { return Expr{Op: OpProp, Name: name} }

func Const(v float64) Expr { return Expr{Op: OpConst, Value: &v} }

func Add(a, b Expr) Expr { return Expr{Op: OpAdd, Args: []Expr{a, b}} }

func Sub(a, b Expr) Expr { return Expr{Op: OpSub, Args: []Expr{a, b}} }

func Mul(a, b Expr) Expr { return Expr{Op: OpMul, Args: []Expr{a, b}} }

func Div(a, b Expr) Expr { return Expr{Op: OpDiv, Args: []Expr{a, b}} }

// GTE is 1 where a >= b and 0 elsewhere.
func GTE(a, b Expr) Expr { return Expr{Op: OpGTE, Args: []Expr{a, b}} }

// Mask keeps value where cond is non-zero and masks it elsewhere.
func Mask(value, cond Expr) Expr { return Expr{Op: OpMask, Args: []Expr{value, cond}} }

func (e Expr) String() string {
	switch e.Op {
	case OpBand:
		return e.Name
	case OpProp:
		return "prop(" + e.Name + ")"
	case OpConst:
		if e.Value == nil {
			return "const(?)"
		}
		return strconv.FormatFloat(*e.Value, 'g', -1, 64)
	default:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		return e.Op + "(" + strings.Join(args, ", ") + ")"
	}
}

// Output names the band an expression is written to.
type Output struct {
	Name string `json:"name"`
	Expr Expr   `json:"expr"`
}

// Transform is a pure per-image band transform. Outputs are computed in order
// and may reference earlier outputs. Unless KeepInputs is set, the result
// holds only the outputs.
type Transform struct {
	Outputs    []Output `json:"outputs"`
	KeepInputs bool     `json:"keep_inputs"`
}

// Apply evaluates t pixel-wise against in-process band data.
func (t Transform) Apply(img Image) (Image, error) {
	if len(t.Outputs) == 0 {
		return Image{}, fmt.Errorf("transform has no outputs")
	}
	env := make(map[string][]float64, len(img.Bands)+len(t.Outputs))
	for _, b := range img.Bands {
		env[b.Name] = b.Data
	}

	computed := make([]Band, 0, len(t.Outputs))
	for _, o := range t.Outputs {
		data, err := eval(o.Expr, img, env)
		if err != nil {
			return Image{}, fmt.Errorf("failed to evaluate %s = %s on %s: %w", o.Name, o.Expr, img.ID, err)
		}
		env[o.Name] = data
		computed = append(computed, Band{Name: o.Name, Data: data})
	}

	out := img
	out.Bands = nil
	if t.KeepInputs {
		out.Bands = append(out.Bands, img.Bands...)
	}
	out.Bands = append(out.Bands, computed...)
	return out, nil
}

func eval(e Expr, img Image, env map[string][]float64) ([]float64, error) {
	switch e.Op {
	case OpBand:
		data, ok := env[e.Name]
		if !ok {
			return nil, fmt.Errorf("unknown band %q", e.Name)
		}
		return data, nil
	case OpProp:
		v, err := numericProperty(img, e.Name)
		if err != nil {
			return nil, err
		}
		return []float64{v}, nil
	case OpConst:
		if e.Value == nil {
			return nil, fmt.Errorf("constant without value")
		}
		return []float64{*e.Value}, nil
	}

	if len(e.Args) != 2 {
		return nil, fmt.Errorf("operator %q takes 2 arguments, got %d", e.Op, len(e.Args))
	}
	a, err := eval(e.Args[0], img, env)
	if err != nil {
		return nil, err
	}
	b, err := eval(e.Args[1], img, env)
	if err != nil {
		return nil, err
	}

	var fn func(x, y float64) float64
	switch e.Op {
	case OpAdd:
		fn = func(x, y float64) float64 { return x + y }
	case OpSub:
		fn = func(x, y float64) float64 { return x - y }
	case OpMul:
		fn = func(x, y float64) float64 { return x * y }
	case OpDiv:
		fn = func(x, y float64) float64 {
			if y == 0 {
				return math.NaN()
			}
			return x / y
		}
	case OpGTE:
		fn = func(x, y float64) float64 {
			if x >= y {
				return 1
			}
			return 0
		}
	case OpMask:
		fn = func(x, cond float64) float64 {
			if cond == 0 {
				return math.NaN()
			}
			return x
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", e.Op)
	}
	return broadcast(a, b, fn)
}

// broadcast applies fn element-wise; single-element operands stand for
// constants. NaN in either operand propagates.
func broadcast(a, b []float64, fn func(x, y float64) float64) ([]float64, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if (len(a) != n && len(a) != 1) || (len(b) != n && len(b) != 1) {
		return nil, fmt.Errorf("band sizes differ: %d vs %d", len(a), len(b))
	}
	out := make([]float64, n)
	for i := range out {
		x, y := a[0], b[0]
		if len(a) > 1 {
			x = a[i]
		}
		if len(b) > 1 {
			y = b[i]
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(x, y)
	}
	return out, nil
}

func numericProperty(img Image, name string) (float64, error) {
	raw, ok := img.Properties[name]
	if !ok {
		return 0, fmt.Errorf("image %s has no property %q", img.ID, name)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("property %q of %s is not numeric: %q", name, img.ID, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("property %q of %s has unsupported type %T", name, img.ID, raw)
	}
}
