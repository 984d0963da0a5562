// Package report summarizes a benchmark run for humans and scripts.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/roach88/chessbench/internal/model"
)

// ArchetypeRow is the accuracy of both predictors over one archetype.
type ArchetypeRow struct {
	Archetype         string  `json:"archetype"`
	Games             int     `json:"games"`
	PatternCorrect    int     `json:"pattern_correct"`
	EvaluatorCorrect  int     `json:"evaluator_correct"`
	PatternAccuracy   float64 `json:"pattern_accuracy"`
	EvaluatorAccuracy float64 `json:"evaluator_accuracy"`
}

// Summary is the derived view of a run.
type Summary struct {
	RunID     string          `json:"run_id"`
	Status    model.RunStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	Target    int `json:"target"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	PatternCorrect    int     `json:"pattern_correct"`
	EvaluatorCorrect  int     `json:"evaluator_correct"`
	PatternAccuracy   float64 `json:"pattern_accuracy"`
	EvaluatorAccuracy float64 `json:"evaluator_accuracy"`
	BothCorrect       int     `json:"both_correct"`
	BothWrong         int     `json:"both_wrong"`
	PatternOnly       int     `json:"pattern_only"`
	EvaluatorOnly     int     `json:"evaluator_only"`
	Agreement         int     `json:"agreement"`

	Archetypes []ArchetypeRow `json:"archetypes"`
}

// Summarize combines the run aggregate with its stored attempts. Totals
// come from the aggregate; the archetype breakdown comes from attempts.
func Summarize(agg model.RunAggregate, attempts []model.PredictionAttempt) Summary {
	s := Summary{
		RunID:             agg.RunID,
		Status:            agg.Status,
		StartedAt:         agg.StartedAt,
		UpdatedAt:         agg.UpdatedAt,
		Target:            agg.TargetCount,
		Completed:         agg.CompletedCount,
		Failed:            agg.FailedCount,
		PatternCorrect:    agg.PatternCorrectCount,
		EvaluatorCorrect:  agg.EvaluatorCorrectCount,
		PatternAccuracy:   agg.PatternAccuracy,
		EvaluatorAccuracy: agg.EvaluatorAccuracy,
		BothCorrect:       agg.BothCorrectCount,
		BothWrong:         agg.BothWrongCount,
		PatternOnly:       agg.PatternCorrectCount - agg.BothCorrectCount,
		EvaluatorOnly:     agg.EvaluatorCorrectCount - agg.BothCorrectCount,
		Agreement:         agg.AgreementCount,
		Archetypes:        []ArchetypeRow{},
	}

	rows := make(map[string]*ArchetypeRow)
	for _, a := range attempts {
		name := a.PatternArchetype
		if name == "" {
			name = "unlabeled"
		}
		row, ok := rows[name]
		if !ok {
			row = &ArchetypeRow{Archetype: name}
			rows[name] = row
		}
		row.Games++
		if a.PatternCorrect {
			row.PatternCorrect++
		}
		if a.EvaluatorCorrect {
			row.EvaluatorCorrect++
		}
	}
	for _, row := range rows {
		row.PatternAccuracy = float64(row.PatternCorrect) / float64(row.Games)
		row.EvaluatorAccuracy = float64(row.EvaluatorCorrect) / float64(row.Games)
		s.Archetypes = append(s.Archetypes, *row)
	}
	sort.Slice(s.Archetypes, func(i, j int) bool {
		if s.Archetypes[i].Games != s.Archetypes[j].Games {
			return s.Archetypes[i].Games > s.Archetypes[j].Games
		}
		return s.Archetypes[i].Archetype < s.Archetypes[j].Archetype
	})
	return s
}

// Render writes the plain-text report for a run.
func Render(w io.Writer, agg model.RunAggregate, attempts []model.PredictionAttempt) error {
	return Summarize(agg, attempts).WriteText(w)
}

// WriteText writes s as aligned plain text.
func (s Summary) WriteText(w io.Writer) error {
	p := &printer{w: w}

	p.printf("Run %s (%s)\n", s.RunID, s.Status)
	p.printf("Started  %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	p.printf("Elapsed  %s\n", s.UpdatedAt.Sub(s.StartedAt).Round(time.Second))
	p.printf("\n")
	p.printf("Predictions  %d of %d, %d skipped\n", s.Completed, s.Target, s.Failed)
	p.printf("\n")
	p.printf("%-12s %8s %9s\n", "", "correct", "accuracy")
	p.printf("%-12s %8d %8.1f%%\n", "pattern", s.PatternCorrect, percent(s.PatternAccuracy))
	p.printf("%-12s %8d %8.1f%%\n", "evaluator", s.EvaluatorCorrect, percent(s.EvaluatorAccuracy))
	p.printf("\n")
	p.printf("%-15s %d\n", "both correct", s.BothCorrect)
	p.printf("%-15s %d\n", "both wrong", s.BothWrong)
	p.printf("%-15s %d\n", "pattern only", s.PatternOnly)
	p.printf("%-15s %d\n", "evaluator only", s.EvaluatorOnly)
	p.printf("%-15s %d (%.1f%%)\n", "agreement", s.Agreement, ratio(s.Agreement, s.Completed))
	p.printf("\n")

	if len(s.Archetypes) == 0 {
		p.printf("No predictions recorded.\n")
		return p.err
	}
	p.printf("%-20s %5s %8s %9s\n", "archetype", "games", "pattern", "evaluator")
	for _, row := range s.Archetypes {
		p.printf("%-20s %5d %7.1f%% %8.1f%%\n",
			row.Archetype, row.Games, percent(row.PatternAccuracy), percent(row.EvaluatorAccuracy))
	}
	return p.err
}

// RenderRuns writes one line per run, newest first as given.
func RenderRuns(w io.Writer, runs []model.RunAggregate) error {
	p := &printer{w: w}
	if len(runs) == 0 {
		p.printf("No runs recorded.\n")
		return p.err
	}
	p.printf("%-36s %-10s %9s %8s %8s  %s\n", "run", "status", "completed", "pattern", "engine", "started")
	for _, r := range runs {
		p.printf("%-36s %-10s %4d/%-4d %7.1f%% %7.1f%%  %s\n",
			r.RunID, r.Status, r.CompletedCount, r.TargetCount,
			percent(r.PatternAccuracy), percent(r.EvaluatorAccuracy),
			r.StartedAt.UTC().Format(time.RFC3339))
	}
	return p.err
}

func percent(f float64) float64 {
	return f * 100
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
