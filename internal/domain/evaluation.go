package domain

// Evaluation is the traceable result of scoring one set of inputs against one
// instrument. It carries no clock or random data: identical inputs against an
// identical table produce identical evaluations.
type Evaluation struct {
	InstrumentID      string `json:"instrumentId" yaml:"instrument_id"`
	InstrumentVersion string `json:"instrumentVersion" yaml:"instrument_version"`

	// Score is the rounded raw value clamped to the instrument's bounds.
	Score int `json:"score" yaml:"score"`

	// RawValue is offset plus the sum of contributions, before rounding and clamping.
	RawValue float64 `json:"rawValue" yaml:"raw_value"`

	Tier         RiskTier `json:"tier" yaml:"tier"`
	OutcomeKey   string   `json:"outcomeKey" yaml:"outcome_key"`
	OutcomeLabel string   `json:"outcomeLabel" yaml:"outcome_label"`
	OutcomeValue float64  `json:"outcomeValue" yaml:"outcome_value"`

	// ScoreOutcomeValue is set when the instrument declares per-score outcomes.
	ScoreOutcomeValue *float64 `json:"scoreOutcomeValue,omitempty" yaml:"score_outcome_value,omitempty"`

	// Components are in rule declaration order.
	Components []ComponentResult `json:"components" yaml:"components"`

	// Inputs is the resolved mapping the predicates saw, defaults included.
	Inputs map[string]any `json:"inputs" yaml:"inputs"`
}

// ComponentResult records how one rule fared.
type ComponentResult struct {
	RuleID    string  `json:"ruleId" yaml:"rule_id"`
	Label     string  `json:"label" yaml:"label"`
	Condition string  `json:"condition" yaml:"condition"`
	Met       bool    `json:"met" yaml:"met"`
	Points    float64 `json:"points" yaml:"points"`

	// Value is Points when met, else 0.
	Value float64 `json:"value" yaml:"value"`

	// Contribution is Value in linear mode or ln(1 + Value/scale) in log mode.
	Contribution float64 `json:"contribution" yaml:"contribution"`
}

// ActiveCount returns the number of met rules.
func (e *Evaluation) ActiveCount() int {
	n := 0
	for _, c := range e.Components {
		if c.Met {
			n++
		}
	}
	return n
}

// Summary strips the evaluation down to what may leave the process on the bus.
// It never carries patient inputs.
func (e *Evaluation) Summary() EvaluationSummary {
	return EvaluationSummary{
		InstrumentID:      e.InstrumentID,
		InstrumentVersion: e.InstrumentVersion,
		Score:             e.Score,
		Tier:              e.Tier.Label,
		ActiveRules:       e.ActiveCount(),
	}
}

// EvaluationSummary is published after every evaluation.
type EvaluationSummary struct {
	InstrumentID      string `json:"instrumentId"`
	InstrumentVersion string `json:"instrumentVersion"`
	Score             int    `json:"score"`
	Tier              string `json:"tier"`
	ActiveRules       int    `json:"activeRules"`
}

// EvaluateRequest is the payload of an evaluation request.
type EvaluateRequest struct {
	InstrumentID string         `json:"instrumentId"`
	Inputs       map[string]any `json:"inputs"`
}

// EvaluateReply answers an EvaluateRequest.
type EvaluateReply struct {
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Error      string      `json:"error,omitempty"`
}
