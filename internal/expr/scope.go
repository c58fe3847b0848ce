package expr

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// TaskView is the read-only slice of a prior task result that expressions may
// reference: task.<id>.status and task.<id>.output.<key>.
type TaskView struct {
	Status string
	Output map[string]any
}

// Scope holds the variable bindings an expression evaluates against. The
// schema is fixed: `var.<name>` for execution variables, `task.<id>` for
// prior task results, and optionally `item`/`index` inside transforms.
type Scope struct {
	Variables map[string]any
	Tasks     map[string]TaskView

	// Item and Index are only populated for per-element transform
	// evaluation; HasItem gates their visibility.
	HasItem bool
	Item    any
	Index   int
}

// evalContext materializes the scope into an HCL evaluation context.
func (s *Scope) evalContext() (*hcl.EvalContext, error) {
	vars := make(map[string]cty.Value)

	varVals := make(map[string]cty.Value, len(s.Variables))
	for name, v := range s.Variables {
		ctyVal, err := ToCty(v)
		if err != nil {
			return nil, fmt.Errorf("variable '%s': %w", name, err)
		}
		varVals[name] = ctyVal
	}
	if len(varVals) > 0 {
		vars["var"] = cty.ObjectVal(varVals)
	} else {
		vars["var"] = cty.EmptyObjectVal
	}

	taskVals := make(map[string]cty.Value, len(s.Tasks))
	for id, view := range s.Tasks {
		outputVal := cty.EmptyObjectVal
		if len(view.Output) > 0 {
			outVals := make(map[string]cty.Value, len(view.Output))
			for key, v := range view.Output {
				ctyVal, err := ToCty(v)
				if err != nil {
					return nil, fmt.Errorf("task '%s' output '%s': %w", id, key, err)
				}
				outVals[key] = ctyVal
			}
			outputVal = cty.ObjectVal(outVals)
		}
		taskVals[id] = cty.ObjectVal(map[string]cty.Value{
			"status": cty.StringVal(view.Status),
			"output": outputVal,
		})
	}
	if len(taskVals) > 0 {
		vars["task"] = cty.ObjectVal(taskVals)
	} else {
		vars["task"] = cty.EmptyObjectVal
	}

	if s.HasItem {
		itemVal, err := ToCty(s.Item)
		if err != nil {
			return nil, fmt.Errorf("transform item: %w", err)
		}
		vars["item"] = itemVal
		vars["index"] = cty.NumberIntVal(int64(s.Index))
	}

	return &hcl.EvalContext{Variables: vars, Functions: functionTable}, nil
}

// ToCty converts a native Go value into its corresponding cty.Value.
// Heterogeneous slices become tuples and maps become objects, so mixed-type
// task outputs survive the round trip.
func ToCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return val, nil
	case bool:
		return cty.BoolVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, elem := range val {
			ctyElem, err := ToCty(elem)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = ctyElem
		}
		return cty.TupleVal(elems), nil
	case []string:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, elem := range val {
			elems[i] = cty.StringVal(elem)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for key, elem := range val {
			ctyElem, err := ToCty(elem)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key '%s': %w", key, err)
			}
			attrs[key] = ctyElem
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
	}
}

// FromCty converts a cty.Value back into a native Go value. Integral numbers
// come back as int64, everything else fractional as float64.
func FromCty(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := FromCty(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := FromCty(elem)
			if err != nil {
				return nil, err
			}
			out[key.AsString()] = native
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
	}
}

// SortedKeys returns the keys of a native map in stable order. Handlers use
// it when logging outputs so log lines stay deterministic.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
