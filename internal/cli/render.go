package cli

import (
	"fmt"
	"io"

	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/domain"
)

// renderKey is the part of a view that warrants a full redraw; timer ticks alone do not.
type renderKey struct {
	phase       app.Phase
	index       int
	answer      app.AnswerState
	selected    string
	feedback    string
	pending     bool
	timeUp      bool
	remediation app.RemediationView
	gone        bool
	push        bool
	lastErr     string
	stage       domain.FlowStage
}

func keyOf(v app.View) renderKey {
	return renderKey{
		phase:       v.Phase,
		index:       v.QuestionIndex,
		answer:      v.Answer,
		selected:    v.SelectedOption,
		feedback:    v.Feedback,
		pending:     v.FeedbackPending,
		timeUp:      v.TimeUp,
		remediation: v.Remediation,
		gone:        v.ModeratorGone,
		push:        v.PushConnected,
		lastErr:     v.LastError,
		stage:       v.Stage,
	}
}

func (p *player) render(v app.View) {
	k := keyOf(v)
	if k == p.last {
		if v.TimerVisible && !v.TimeUp && v.Answer != app.AnswerSettled && v.TimeRemaining <= 5 {
			fmt.Fprintf(p.out, "  %ds left\n", v.TimeRemaining)
		}
		return
	}
	p.last = k
	writeView(p.out, v, p.ctrl.PostSession())
}

func writeView(w io.Writer, v app.View, post *app.PostSession) {
	fmt.Fprintln(w)
	if v.ModeratorGone {
		fmt.Fprintln(w, "The moderator disconnected. Waiting for them to come back.")
	}
	if v.LastError != "" {
		fmt.Fprintf(w, "(connection trouble: %s)\n", v.LastError)
	}

	switch v.Phase {
	case app.PhaseLobby:
		fmt.Fprintln(w, "Waiting for the session to start...")
	case app.PhaseQuestion, app.PhaseAnswered:
		writeQuestion(w, v)
	case app.PhaseRoomResults:
		fmt.Fprintf(w, "Results for question %d. Score %d, rank %d.\n", v.QuestionIndex+1, v.Participant.Score, v.Participant.Rank)
	case app.PhaseFinished:
		writeSummary(w, v, post)
	}
}

func writeQuestion(w io.Writer, v app.View) {
	if v.Question == nil {
		fmt.Fprintln(w, "Loading question...")
		return
	}
	fmt.Fprintf(w, "Question %d/%d: %s\n", v.QuestionIndex+1, v.TotalQuestions, v.Question.Prompt)
	for _, opt := range v.Question.Options {
		marker := " "
		if opt.ID == v.SelectedOption {
			marker = ">"
		}
		fmt.Fprintf(w, " %s[%s] %s\n", marker, opt.ID, opt.Text)
	}
	if v.TimerVisible {
		fmt.Fprintf(w, "Time left: %ds\n", v.TimeRemaining)
	}
	if v.TimeUp && v.Answer != app.AnswerSettled {
		fmt.Fprintln(w, "Time is up.")
	}

	switch v.Answer {
	case app.AnswerSubmitting:
		fmt.Fprintln(w, "Submitting...")
	case app.AnswerSettled:
		if v.Result != nil {
			verdict := "Incorrect"
			if v.Result.Correct {
				verdict = "Correct"
			}
			fmt.Fprintf(w, "%s (+%d, total %d)\n", verdict, v.Result.PointsEarned, v.Result.TotalScore)
		}
		if v.FeedbackPending {
			fmt.Fprintln(w, "...")
		} else if v.Feedback != "" {
			fmt.Fprintln(w, v.Feedback)
		}
		if v.CanRetry {
			fmt.Fprintln(w, "You can retry this question.")
		}
	}

	r := v.Remediation
	if r.Offered && !r.Resolved {
		switch {
		case r.Required && !r.CanSkip:
			fmt.Fprintln(w, "Review this concept before moving on (fix pass|fail).")
		case r.CanSkip:
			fmt.Fprintln(w, "A short review is available (fix pass|fail, or skip).")
		default:
			fmt.Fprintln(w, "A short review is available (fix pass|fail).")
		}
	}
}

func writeSummary(w io.Writer, v app.View, post *app.PostSession) {
	fmt.Fprintf(w, "Session finished. Score %d.\n", v.Participant.Score)
	if post == nil {
		return
	}
	perf := post.Performance()
	fmt.Fprintf(w, "Answered %d, correct %d (%.0f%%), mean confidence %.0f, calibration gap %.2f\n",
		perf.Answered, perf.Correct, perf.Accuracy*100, perf.MeanConfidence, perf.CalibrationGap)
	if len(perf.WeakConcepts) > 0 {
		fmt.Fprintf(w, "Concepts to review: %v\n", perf.WeakConcepts)
	}
	switch post.Stage() {
	case domain.StageSummary:
		fmt.Fprintln(w, "Next: remediate, practice or done.")
	case domain.StageRemediation:
		fmt.Fprintln(w, "Next: answer <option>, practice or done.")
	case domain.StagePractice:
		fmt.Fprintln(w, "Practice mode. Type done when finished.")
	case domain.StageComplete:
		fmt.Fprintln(w, "All done. Type quit to leave.")
	}
}
