// Package presenter derives what the intent result panel shows from the
// pipeline's loading flag, error message and intent result.
package presenter

import (
	"encoding/json"

	"voxpilot/internal/domain"
)

// Kind is the mutually exclusive display mode of the result panel.
type Kind string

const (
	KindIdle    Kind = "idle"
	KindLoading Kind = "loading"
	KindError   Kind = "error"
	KindReady   Kind = "ready"
)

const (
	TextLoading  = "Analyzing voice command..."
	TextReady    = "Analysis Complete"
	TextIdle     = "Waiting for input..."
	LabelAction  = "Action"
	LabelSite    = "Target Site"
	LabelParams  = "Parameters"
	paramsIndent = "  "
)

// Inputs are the three independently supplied values the panel is driven by.
type Inputs struct {
	Intent  *domain.IntentResult
	Loading bool
	Error   string
}

// State is the derived presentation state. Message is set for KindError,
// Intent for KindReady.
type State struct {
	Kind    Kind
	Message string
	Intent  *domain.IntentResult
}

// Derive resolves the inputs with precedence Loading > Error > Ready > Idle.
func Derive(in Inputs) State {
	switch {
	case in.Loading:
		return State{Kind: KindLoading}
	case in.Error != "":
		return State{Kind: KindError, Message: in.Error}
	case in.Intent != nil:
		return State{Kind: KindReady, Intent: in.Intent}
	default:
		return State{Kind: KindIdle}
	}
}

// Field is one labelled row of a ready result.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// View is the render model handed to the UI.
type View struct {
	Kind     Kind    `json:"kind"`
	Spinner  bool    `json:"spinner"`
	Headline string  `json:"headline,omitempty"`
	Message  string  `json:"message,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
}

// Render builds the view for inputs.
func Render(in Inputs) View {
	return RenderState(Derive(in))
}

// RenderState builds the view for an already derived state.
func RenderState(state State) View {
	switch state.Kind {
	case KindLoading:
		return View{Kind: KindLoading, Spinner: true, Message: TextLoading}
	case KindError:
		return View{Kind: KindError, Message: state.Message}
	case KindReady:
		if state.Intent == nil {
			return View{Kind: KindIdle, Message: TextIdle}
		}
		return View{Kind: KindReady, Headline: TextReady, Fields: intentFields(*state.Intent)}
	default:
		return View{Kind: KindIdle, Message: TextIdle}
	}
}

func intentFields(intent domain.IntentResult) []Field {
	fields := []Field{{Label: LabelAction, Value: intent.Action}}
	if intent.HasSite() {
		fields = append(fields, Field{Label: LabelSite, Value: intent.Site})
	}
	if intent.Params.Len() > 0 {
		fields = append(fields, Field{Label: LabelParams, Value: formatParams(intent.Params)})
	}
	return fields
}

func formatParams(params domain.Params) string {
	out, err := json.MarshalIndent(params, "", paramsIndent)
	if err != nil {
		// Values that cannot be encoded still render by key.
		fallback := make(domain.Params, 0, params.Len())
		for _, p := range params {
			if _, encErr := json.Marshal(p.Value); encErr != nil {
				fallback = append(fallback, domain.Param{Key: p.Key, Value: nil})
				continue
			}
			fallback = append(fallback, p)
		}
		out, _ = json.MarshalIndent(fallback, "", paramsIndent)
	}
	return string(out)
}
