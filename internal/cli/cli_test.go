package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/config"
	"quiz-learner-client/internal/domain"
	"quiz-learner-client/internal/infra/memory"
	"quiz-learner-client/internal/infra/sqlite"
)

func TestResolveIdentityRemembersParticipant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStore()

	first, err := resolveIdentity(ctx, store, "s1", "", "Ada")
	require.NoError(t, err)
	require.NotEmpty(t, first.ParticipantID)
	require.Equal(t, "Ada", first.DisplayName)

	again, err := resolveIdentity(ctx, store, "s1", "", "")
	require.NoError(t, err)
	require.Equal(t, first, again)

	explicit, err := resolveIdentity(ctx, store, "s1", "p-9", "")
	require.NoError(t, err)
	require.Equal(t, "p-9", explicit.ParticipantID)
	require.Equal(t, "learner-p-9", explicit.DisplayName)

	other, err := resolveIdentity(ctx, store, "s2", "", "")
	require.NoError(t, err)
	require.NotEqual(t, first.ParticipantID, other.ParticipantID)
}

func TestControllerConfigAppliesOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Polling.ConnectedInterval = "10s"
	cfg.Polling.FailureThreshold = 7
	cfg.Feedback.Timeout = "2s"
	cfg.Feedback.FallbackCorrect = "Yes!"
	cfg.Learner.AutoSubmitOnTimeout = true
	cfg.Learner.DefaultConfidence = 80

	out := controllerConfig(cfg)
	require.Equal(t, 10*time.Second, out.Coordinator.ConnectedPollInterval)
	require.Equal(t, 2*time.Second, out.Coordinator.DisconnectedPollInterval)
	require.Equal(t, 7, out.Coordinator.FailureThreshold)
	require.Equal(t, 2*time.Second, out.FeedbackTimeout)
	require.Equal(t, "Yes!", out.FallbackCorrect)
	require.Equal(t, app.DefaultControllerConfig().FallbackIncorrect, out.FallbackIncorrect)
	require.True(t, out.AutoSubmitOnTimeout)
	require.Equal(t, 80, out.DefaultConfidence)
}

func TestControllerConfigClampsDefaultConfidence(t *testing.T) {
	cfg := config.Default()
	cfg.Learner.DefaultConfidence = 150
	require.Equal(t, domain.MaxConfidence, controllerConfig(cfg).DefaultConfidence)

	cfg.Learner.DefaultConfidence = -5
	require.Equal(t, domain.MinConfidence, controllerConfig(cfg).DefaultConfidence)
	require.True(t, domain.ValidConfidence(controllerConfig(cfg).DefaultConfidence))
}

func TestOpenStoreRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Kind = "etcd"
	_, _, err := openStore(context.Background(), cfg)
	require.Error(t, err)

	cfg.Push.Kind = "carrier-pigeon"
	_, _, err = openPush(cfg)
	require.Error(t, err)
}

func TestStatusCommandReadsSQLiteProgress(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "progress.db")

	store, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	progress := app.NewProgress(store, domain.ProgressKey{SessionID: "s1", ParticipantID: "p1"})
	require.NoError(t, progress.SetCursor(ctx, 4))
	require.NoError(t, store.Close())

	cfgPath := writeConfig(t, dir, "store:\n  kind: sqlite\n  sqlite:\n    path: "+dbPath+"\n")
	out := runCommand(t, "--config", cfgPath, "status", "--session", "s1", "--participant", "p1")
	require.Contains(t, out, "cursor:      4")
	require.Contains(t, out, "completed:   false")
}

func TestExportCommandWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/s1/export" || r.URL.Query().Get("format") != "md" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("# Quiz s1\n"))
	}))
	defer server.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "api:\n  base_url: "+server.URL+"\n")
	target := filepath.Join(dir, "export.md")
	runCommand(t, "--config", cfgPath, "export", "--session", "s1", "--out", target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "# Quiz s1\n", string(data))
}

func TestPlayerHandlesCommandErrors(t *testing.T) {
	var buf bytes.Buffer
	p := &player{out: &buf, defaultConfidence: 50}

	quit, err := p.handle(context.Background(), "select")
	require.False(t, quit)
	require.ErrorContains(t, err, "usage")

	_, err = p.handle(context.Background(), "fix maybe")
	require.ErrorContains(t, err, "usage")

	_, err = p.handle(context.Background(), "dance")
	require.ErrorContains(t, err, "unknown command")

	confidence, rationale, err := p.confirmArgs([]string{"75", "it", "rhymes"})
	require.NoError(t, err)
	require.Equal(t, 75, confidence)
	require.Equal(t, "it rhymes", rationale)

	confidence, _, err = p.confirmArgs(nil)
	require.NoError(t, err)
	require.Equal(t, 50, confidence)

	quit, err = p.handle(context.Background(), "quit")
	require.NoError(t, err)
	require.True(t, quit)
}

func TestWriteViewShowsQuestionAndFeedback(t *testing.T) {
	var buf bytes.Buffer
	writeView(&buf, app.View{
		Phase:          app.PhaseAnswered,
		QuestionIndex:  1,
		TotalQuestions: 3,
		Question: &domain.Question{
			Prompt:  "2 + 2?",
			Options: []domain.Option{{ID: "a", Text: "4"}, {ID: "b", Text: "5"}},
		},
		Answer:         app.AnswerSettled,
		SelectedOption: "a",
		Result:         &domain.AnswerResult{Correct: true, PointsEarned: 10, TotalScore: 20},
		Feedback:       "Nice work!",
	}, nil)

	out := buf.String()
	require.Contains(t, out, "Question 2/3: 2 + 2?")
	require.Contains(t, out, ">[a] 4")
	require.Contains(t, out, "Correct (+10, total 20)")
	require.True(t, strings.HasSuffix(strings.TrimSpace(out), "Nice work!"))
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}
