package contracts

// RiskFactor is one scored input that contributed to a RiskSnapshot.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// ScoreActionInput is the input to RiskService.Score.
type ScoreActionInput struct {
	Action *Action
}
