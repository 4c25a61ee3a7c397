package driver

import (
	"encoding/json"
	"fmt"

	"polybind/internal/diag"
	"polybind/internal/observ"
	"polybind/internal/source"
)

type timingPayload struct {
	Kind    string               `json:"kind"`
	BuildID string               `json:"build_id,omitempty"`
	TotalMS float64              `json:"total_ms"`
	Phases  []observ.PhaseReport `json:"phases"`
	Stages  []observ.StageReport `json:"stages,omitempty"`
}

// appendTimingDiagnostic adds an info diagnostic carrying the phase report
// as JSON in its note. It bypasses the bag's limit.
func appendTimingDiagnostic(bag *diag.Bag, payload timingPayload) {
	if bag == nil {
		return
	}
	if payload.Kind == "" {
		payload.Kind = "build"
	}
	msg := fmt.Sprintf("timings (%s): total %.2f ms", payload.Kind, payload.TotalMS)
	if payload.BuildID != "" {
		msg = fmt.Sprintf("%s, build %s", msg, payload.BuildID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	entry := diag.Diagnostic{
		Severity: diag.SevInfo,
		Code:     diag.ObsTimings,
		Message:  msg,
		Primary:  source.Span{},
		Notes: []diag.Note{
			{Span: source.Span{}, Msg: string(data)},
		},
	}

	bag.AddAll([]diag.Diagnostic{entry})
}
