package domain

import (
	"math"
	"sort"
)

// ProgressKey scopes persisted progress to one (session, participant) pair so a new
// participant never reads another's cursor.
type ProgressKey struct {
	SessionID     string
	ParticipantID string
}

func (k ProgressKey) prefix() string {
	return "quiz:session:" + k.SessionID + ":participant:" + k.ParticipantID
}

// CursorKey stores the self-paced question index reached.
func (k ProgressKey) CursorKey() string {
	return k.prefix() + ":cursor"
}

// CompletionKey stores the completion flag.
func (k ProgressKey) CompletionKey() string {
	return k.prefix() + ":completed"
}

// PerformanceKey stores the settled answers behind the post-session summary.
func (k ProgressKey) PerformanceKey() string {
	return k.prefix() + ":performance"
}

// IdentityKey stores the participant identity remembered for a session.
func IdentityKey(sessionID string) string {
	return "quiz:session:" + sessionID + ":identity"
}

// FlowStage is the post-session stage.
type FlowStage string

const (
	StageSummary     FlowStage = "summary"
	StageRemediation FlowStage = "remediation"
	StagePractice    FlowStage = "practice"
	StageComplete    FlowStage = "complete"
)

// Performance aggregates the learner's answers for the summary and for remediation requests.
type Performance struct {
	Answered       int
	Correct        int
	Accuracy       float64
	MeanConfidence float64
	// CalibrationGap is the mean distance between stated confidence and actual
	// correctness, 0 is perfectly calibrated and 1 is maximally miscalibrated.
	CalibrationGap float64
	WeakConcepts   []string
}

// AnswerRecord is the settled outcome of one question.
type AnswerRecord struct {
	Index      int    `json:"index"`
	Correct    bool   `json:"correct"`
	Confidence int    `json:"confidence"`
	Concept    string `json:"concept,omitempty"`
}

// PerformanceTracker accumulates settled answers, one per question index.
type PerformanceTracker struct {
	byIndex map[int]AnswerRecord
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{byIndex: make(map[int]AnswerRecord)}
}

// RestorePerformanceTracker rebuilds a tracker from persisted records.
func RestorePerformanceTracker(records []AnswerRecord) *PerformanceTracker {
	t := NewPerformanceTracker()
	for _, rec := range records {
		if rec.Index < 0 {
			continue
		}
		t.byIndex[rec.Index] = rec
	}
	return t
}

// Record stores the outcome for a question. A later attempt on the same question replaces the earlier one.
func (t *PerformanceTracker) Record(questionIndex int, correct bool, confidence int, concept string) {
	t.byIndex[questionIndex] = AnswerRecord{Index: questionIndex, Correct: correct, Confidence: confidence, Concept: concept}
}

// Records lists the settled answers in question order.
func (t *PerformanceTracker) Records() []AnswerRecord {
	out := make([]AnswerRecord, 0, len(t.byIndex))
	for _, rec := range t.byIndex {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Snapshot computes the aggregates.
func (t *PerformanceTracker) Snapshot() Performance {
	perf := Performance{Answered: len(t.byIndex)}
	if perf.Answered == 0 {
		return perf
	}

	var confSum, gapSum float64
	weak := make(map[string]struct{})
	for _, rec := range t.byIndex {
		outcome := 0.0
		if rec.Correct {
			perf.Correct++
			outcome = 1
		} else if rec.Concept != "" {
			weak[rec.Concept] = struct{}{}
		}
		conf := float64(rec.Confidence) / MaxConfidence
		confSum += float64(rec.Confidence)
		gapSum += math.Abs(conf - outcome)
	}

	n := float64(perf.Answered)
	perf.Accuracy = float64(perf.Correct) / n
	perf.MeanConfidence = confSum / n
	perf.CalibrationGap = gapSum / n
	for concept := range weak {
		perf.WeakConcepts = append(perf.WeakConcepts, concept)
	}
	sort.Strings(perf.WeakConcepts)
	return perf
}
