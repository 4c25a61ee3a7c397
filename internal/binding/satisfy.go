package binding

import (
	"go/types"

	"polybind/internal/host"
)

// Mismatch is one method of a parameter type the concrete type lacks.
// Have is empty when the method is missing altogether.
type Mismatch struct {
	Method string
	Want   string
	Have   string
}

func (m Mismatch) String() string {
	if m.Have == "" {
		return "missing method " + m.Method + m.Want
	}
	return "method " + m.Method + " has signature " + m.Have + ", want " + m.Want
}

// Satisfies compares the capability set of param with the method set of
// concrete by name and signature. A method matches when its signature is
// identical to the declared one, either as written or with the parameter
// type itself replaced by concrete.
func Satisfies(concrete types.Type, param host.NamedInterface) []Mismatch {
	ms := types.NewMethodSet(concrete)
	var out []Mismatch
	for _, m := range param.Methods() {
		want := m.Type().(*types.Signature)
		wantSub := substSig(want, param.Named, concrete)
		sel := ms.Lookup(m.Pkg(), m.Name())
		if sel == nil {
			out = append(out, Mismatch{Method: m.Name(), Want: sigString(wantSub)})
			continue
		}
		have := sel.Obj().(*types.Func).Type().(*types.Signature)
		if sameShape(have, want) || sameShape(have, wantSub) {
			continue
		}
		out = append(out, Mismatch{Method: m.Name(), Want: sigString(wantSub), Have: sigString(have)})
	}
	return out
}

func sameShape(a, b *types.Signature) bool {
	return types.Identical(stripRecv(a), stripRecv(b))
}

func stripRecv(s *types.Signature) *types.Signature {
	return types.NewSignatureType(nil, nil, nil, s.Params(), s.Results(), s.Variadic())
}

func sigString(s *types.Signature) string {
	return types.TypeString(stripRecv(s), nil)[len("func"):]
}

func substSig(s *types.Signature, from *types.Named, to types.Type) *types.Signature {
	return types.NewSignatureType(nil, nil, nil,
		substTuple(s.Params(), from, to), substTuple(s.Results(), from, to), s.Variadic())
}

func substTuple(t *types.Tuple, from *types.Named, to types.Type) *types.Tuple {
	if t == nil {
		return nil
	}
	vars := make([]*types.Var, t.Len())
	for i := 0; i < t.Len(); i++ {
		v := t.At(i)
		vars[i] = types.NewParam(v.Pos(), v.Pkg(), v.Name(), subst(v.Type(), from, to))
	}
	return types.NewTuple(vars...)
}

// subst replaces from by to inside composite types. Struct and interface
// literals are left alone.
func subst(t types.Type, from *types.Named, to types.Type) types.Type {
	switch t := t.(type) {
	case *types.Named:
		if t.Obj() == from.Obj() {
			return to
		}
	case *types.Alias:
		return subst(types.Unalias(t), from, to)
	case *types.Pointer:
		return types.NewPointer(subst(t.Elem(), from, to))
	case *types.Slice:
		return types.NewSlice(subst(t.Elem(), from, to))
	case *types.Array:
		return types.NewArray(subst(t.Elem(), from, to), t.Len())
	case *types.Map:
		return types.NewMap(subst(t.Key(), from, to), subst(t.Elem(), from, to))
	case *types.Chan:
		return types.NewChan(t.Dir(), subst(t.Elem(), from, to))
	case *types.Signature:
		return substSig(t, from, to)
	}
	return t
}
