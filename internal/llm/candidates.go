package llm

import (
	"slices"
	"strings"
)

// Models appended to every non-strict chain.
var fallbackModels = []string{"gemini-2.0-flash", "gemini-2.0-flash-latest", "gemini-1.5-flash-latest"}

// Candidate is one (model, API version) pair to try.
type Candidate struct {
	Model      string
	APIVersion string
}

// CandidateModels returns the ordered, de-duplicated models to try for
// model. Strict mode returns only model.
func CandidateModels(model string, strict bool) []string {
	models := []string{model}
	if strict {
		return models
	}
	if !strings.HasSuffix(model, "-latest") {
		models = append(models, model+"-latest")
	}
	for _, m := range fallbackModels {
		if !slices.Contains(models, m) {
			models = append(models, m)
		}
	}
	return models
}

// CandidateChain walks candidates in order. After a failure, a 404
// advances to the next API version of the current model; any other
// status skips the model's remaining versions.
type CandidateChain struct {
	models   []string
	versions []string
	mi, vi   int
	started  bool
	last     *APIError
}

// NewCandidateChain builds the chain for model.
func NewCandidateChain(model string, strict bool) *CandidateChain {
	versions := []string{APIVersionV1, APIVersionV1Beta}
	if strict {
		versions = versions[:1]
	}
	return &CandidateChain{models: CandidateModels(model, strict), versions: versions}
}

// Next returns the candidate to try, or false when the chain is spent.
func (c *CandidateChain) Next() (Candidate, bool) {
	if c.started {
		c.vi++
		if c.vi >= len(c.versions) {
			c.mi++
			c.vi = 0
		}
	}
	c.started = true
	if c.mi >= len(c.models) {
		return Candidate{}, false
	}
	return Candidate{Model: c.models[c.mi], APIVersion: c.versions[c.vi]}, true
}

// Fail records err for the current candidate. A non-404 marks the
// current model exhausted so Next moves to the following model.
func (c *CandidateChain) Fail(err *APIError) {
	c.last = err
	if err.StatusCode != 404 {
		c.vi = len(c.versions) - 1
	}
}

// LastError returns the most recent failure.
func (c *CandidateChain) LastError() *APIError {
	return c.last
}
