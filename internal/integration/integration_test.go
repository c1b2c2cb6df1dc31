package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/domain"
	"quiz-learner-client/internal/infra/postgres"
	infraredis "quiz-learner-client/internal/infra/redis"
	transporthttp "quiz-learner-client/internal/transport/http"
)

func TestSelfPacedResumeAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	if err := postgres.Migrate(ctx, pgURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := postgres.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer store.Close()

	server := httptest.NewServer(quizServer(4))
	defer server.Close()
	key := domain.ProgressKey{SessionID: "s1", ParticipantID: "p1"}

	first := newController(key, server.URL, store)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		answerCurrent(t, first)
		if err := first.NextQuestion(ctx); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	first.Close()
	first.WaitIdle()

	resumed := newController(key, server.URL, store)
	defer resumed.Close()
	if err := resumed.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := resumed.View().QuestionIndex; got != 2 {
		t.Fatalf("expected to resume at question 2, got %d", got)
	}
}

func TestProgressInRedis(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	store := infraredis.NewProgressStore(client, time.Hour)
	progress := app.NewProgress(store, domain.ProgressKey{SessionID: "s1", ParticipantID: "p1"})

	if err := progress.SetCursor(ctx, 3); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := progress.MarkCompleted(ctx); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if progress.Cursor(ctx) != 3 || !progress.Completed(ctx) {
		t.Fatalf("expected cursor 3 and completion flag in redis")
	}
}

func newController(key domain.ProgressKey, baseURL string, store app.KeyValueStore) *app.Controller {
	api := transporthttp.NewClient(baseURL, 5*time.Second)
	return app.NewController(key, api, nil, store, clockwork.NewRealClock(), app.DefaultControllerConfig())
}

func answerCurrent(t *testing.T, c *app.Controller) {
	t.Helper()
	if err := c.Select("a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := c.Confirm(context.Background(), 70, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
}

// quizServer is a minimal self-paced quiz backend.
func quizServer(total int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/s1/participant", func(w http.ResponseWriter, r *http.Request) {
		cursor, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
		if cursor > total-1 {
			cursor = total - 1
		}
		_ = json.NewEncoder(w).Encode(domain.SessionSnapshot{
			ID:             "s1",
			Status:         domain.StatusQuestion,
			PacingMode:     domain.PacingSelfPaced,
			QuestionIndex:  cursor,
			TotalQuestions: total,
			Question: &domain.Question{
				Index:   cursor,
				Prompt:  fmt.Sprintf("question %d", cursor),
				Options: []domain.Option{{ID: "a", Text: "yes"}, {ID: "b", Text: "no"}},
			},
		})
	})
	mux.HandleFunc("/sessions/s1/answer", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.AnswerResult{Correct: true, PointsEarned: 1})
	})
	mux.HandleFunc("/host/react/answer", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reaction":"ok"}`))
	})
	mux.HandleFunc("/sessions/s1/participants/p1/state", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.ParticipantState{ParticipantID: "p1"})
	})
	return mux
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
