package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// Eligibility of parameter types
	NTECInfo      Code = 1000
	NTECViolation Code = 1001

	// Binding clauses
	BindInfo           Code = 2000
	BindingSyntax      Code = 2001
	ParamNotEligible   Code = 2002
	BindingUnsatisfied Code = 2003
	DuplicateBinding   Code = 2004

	// Polymorphic lowering
	PolyInfo             Code = 3000
	AddressOfBoundField  Code = 3001
	AmbiguousPolyBinding Code = 3002
	PolyRewriteInvalid   Code = 3003

	// Monomorphic lowering and the instantiation cache
	MonoInfo                    Code = 4000
	CyclicBinding               Code = 4001
	InstantiationBudgetExceeded Code = 4002
	BindingVisibility           Code = 4003
	TypeMismatchAtUse           Code = 4004

	// Dual-compile checks
	DualInfo             Code = 5000
	AmbiguousSharedState Code = 5001

	// Loading and IO
	IOInfo     Code = 6000
	LoadFailed Code = 6001

	// Observability
	ObsInfo    Code = 7000
	ObsTimings Code = 7001
)

var codeDescription = map[Code]string{
	UnknownCode: "Unknown error",

	NTECInfo:      "Eligibility information",
	NTECViolation: "Parameter type is used structurally",

	BindInfo:           "Binding information",
	BindingSyntax:      "Malformed binding clause",
	ParamNotEligible:   "Parameter type is not eligible",
	BindingUnsatisfied: "Concrete type does not satisfy parameter type",
	DuplicateBinding:   "Parameter type bound twice",

	PolyInfo:             "Polymorphic lowering information",
	AddressOfBoundField:  "Address of a value of a bound parameter type",
	AmbiguousPolyBinding: "Expression cannot be attributed to one binding",
	PolyRewriteInvalid:   "Rewritten unit does not type-check",

	MonoInfo:                    "Instantiation information",
	CyclicBinding:               "Cyclic binding",
	InstantiationBudgetExceeded: "Instantiation budget exceeded",
	BindingVisibility:           "Concrete type is not visible to the instantiation",
	TypeMismatchAtUse:           "Type mismatch in specialized package",

	DualInfo:             "Dual-compile information",
	AmbiguousSharedState: "Package state diverges between lowerings",

	IOInfo:     "IO information",
	LoadFailed: "Package load failed",

	ObsInfo:    "Observability information",
	ObsTimings: "Pipeline timings",
}

var codeName = map[Code]string{
	UnknownCode:                 "Unknown",
	NTECInfo:                    "NTECInfo",
	NTECViolation:               "NTECViolation",
	BindInfo:                    "BindInfo",
	BindingSyntax:               "BindingSyntax",
	ParamNotEligible:            "ParamNotEligible",
	BindingUnsatisfied:          "BindingUnsatisfied",
	DuplicateBinding:            "DuplicateBinding",
	PolyInfo:                    "PolyInfo",
	AddressOfBoundField:         "AddressOfBoundField",
	AmbiguousPolyBinding:        "AmbiguousPolyBinding",
	PolyRewriteInvalid:          "PolyRewriteInvalid",
	MonoInfo:                    "MonoInfo",
	CyclicBinding:               "CyclicBinding",
	InstantiationBudgetExceeded: "InstantiationBudgetExceeded",
	BindingVisibility:           "BindingVisibility",
	TypeMismatchAtUse:           "TypeMismatchAtUse",
	DualInfo:                    "DualInfo",
	AmbiguousSharedState:        "AmbiguousSharedState",
	IOInfo:                      "IOInfo",
	LoadFailed:                  "LoadFailed",
	ObsInfo:                     "ObsInfo",
	ObsTimings:                  "ObsTimings",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("NTC%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("BND%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("PLY%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("MNO%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("DCH%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 7000 && ic < 8000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

// Name is the taxonomy name, stable across releases.
func (c Code) Name() string {
	if n, ok := codeName[c]; ok {
		return n
	}
	return codeName[UnknownCode]
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}

// ParseCode maps a taxonomy name back to its code.
func ParseCode(name string) (Code, bool) {
	for c, n := range codeName {
		if n == name {
			return c, true
		}
	}
	return UnknownCode, false
}
