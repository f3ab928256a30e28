package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

// Stage names of the fallback chain.
const (
	StageResearch     = "research"
	StageGeminiDirect = "gemini_direct"
	StageAggregator   = "aggregator"
	StageDefaultModel = "default_model"
	StageLocal        = "local"
	StageGemini       = "gemini"
	StageAnthropic    = "anthropic"
)

// StageOutcome is the result of one attempted stage.
type StageOutcome struct {
	Stage    string        `json:"stage"`
	Model    string        `json:"model,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the stage returned an error.
func (o StageOutcome) Failed() bool {
	return o.Err != nil
}

// Decision records how one dispatch was served.
type Decision struct {
	Task       types.TaskCategory `json:"task"`
	CacheKey   string             `json:"cache_key"`
	Candidates []string           `json:"candidates"`
	Cached     bool               `json:"cached"`
	Stages     []StageOutcome     `json:"stages"`
	Served     string             `json:"served_by,omitempty"`

	start time.Time
}

func newDecision(task types.TaskCategory, cacheKey string, candidates []string) *Decision {
	return &Decision{
		Task:       task,
		CacheKey:   cacheKey,
		Candidates: candidates,
		start:      time.Now(),
	}
}

func (d *Decision) record(stage, model string, err error, duration time.Duration) {
	d.Stages = append(d.Stages, StageOutcome{
		Stage:    stage,
		Model:    model,
		Err:      err,
		Duration: duration,
	})
	if err == nil {
		d.Served = stage
	}
}

// outcome returns the last outcome of stage.
func (d *Decision) outcome(stage string) (StageOutcome, bool) {
	for i := len(d.Stages) - 1; i >= 0; i-- {
		if d.Stages[i].Stage == stage {
			return d.Stages[i], true
		}
	}
	return StageOutcome{}, false
}

func (d *Decision) fields() logrus.Fields {
	tried := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		status := "ok"
		if s.Failed() {
			status = "failed"
		}
		tried[i] = s.Stage + ":" + status
	}
	return logrus.Fields{
		"task":        d.Task,
		"cache_key":   d.CacheKey,
		"cached":      d.Cached,
		"served_by":   d.Served,
		"stages":      strings.Join(tried, ","),
		"duration_ms": time.Since(d.start).Milliseconds(),
	}
}

// ChainError is returned when the aggregator and every direct vendor fallback
// failed.
type ChainError struct {
	Aggregator error
	Fallbacks  []StageOutcome
}

func (e *ChainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "aggregator failed (%v)", e.Aggregator)
	for _, f := range e.Fallbacks {
		fmt.Fprintf(&b, "; %s fallback failed (%v)", f.Stage, f.Err)
	}
	return b.String()
}

func (e *ChainError) Unwrap() []error {
	errs := []error{e.Aggregator}
	for _, f := range e.Fallbacks {
		errs = append(errs, f.Err)
	}
	return errs
}
