package domain

import "encoding/json"

// ProbeResult is the transient outcome of one templated LLM query. It is
// consumed by the score adapter and only persisted inside an agent result.
type ProbeResult struct {
	ProbeName string          `json:"probeName"`
	Dimension Dimension       `json:"dimension"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Output    json.RawMessage `json:"output,omitempty"`
	// Score is the value extracted from Output, nil when none could be read.
	Score      *float64 `json:"score,omitempty"`
	WasValid   bool     `json:"wasValid"`
	IsTrusted  bool     `json:"isTrusted"`
	Confidence float64  `json:"confidence"`
	Attempts   int      `json:"attempts"`
	Error      string   `json:"error,omitempty"`
}

// ProbeOutput is the structured response every probe prompt asks for.
type ProbeOutput struct {
	Score           float64  `json:"score"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations,omitempty"`
}
