package batch

import (
	"github.com/joescharf/nwbbatch/internal/gate"
	"github.com/joescharf/nwbbatch/internal/models"
)

// Planned actions for a session, as previewed without running the engine.
const (
	ActionConvert = "convert"
	ActionSkip    = "skip"
	ActionAbandon = "abandon"
	ActionFail    = "fail"
)

// PlanItem is the previewed fate of one session.
type PlanItem struct {
	SessionID       string              `json:"session_id" yaml:"session_id"`
	Action          string              `json:"action" yaml:"action"`
	Reason          string              `json:"reason,omitempty" yaml:"reason,omitempty"`
	OutputPath      string              `json:"output_path" yaml:"output_path"`
	MissingOptional []models.SourceKind `json:"missing_optional,omitempty" yaml:"missing_optional,omitempty"`
}

// Plan runs only the gate and input checks for each session, in input
// order. It touches nothing on disk.
func Plan(g *gate.Gate, descs []models.SessionDescriptor) []PlanItem {
	items := make([]PlanItem, 0, len(descs))
	for _, d := range descs {
		item := PlanItem{SessionID: d.ID, OutputPath: d.OutputPath}
		dec := g.Decide(d)
		switch dec.Verdict {
		case gate.Abandon:
			item.Action, item.Reason = ActionAbandon, dec.Reason
		case gate.Skip:
			item.Action, item.Reason = ActionSkip, dec.Reason
		default:
			missing, err := g.CheckInputs(d)
			item.MissingOptional = missing
			if err != nil {
				item.Action, item.Reason = ActionFail, err.Error()
			} else {
				item.Action = ActionConvert
			}
		}
		items = append(items, item)
	}
	return items
}
