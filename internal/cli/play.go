package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/domain"
)

const playHelp = `commands:
  select <option>            pick an option (can be changed until confirmed)
  confirm [confidence] [why] send the picked option, confidence 0-100
  retry                      try an incorrect answer again, when allowed
  fix pass|fail              report the remediation check result
  skip                       skip remediation, when allowed
  next                       go to the next question (self-paced)
  finish                     end the session now
  remediate                  request an exit ticket (after the session)
  answer <option>            answer the exit ticket question
  practice                   move on to practice
  done                       complete the session
  help                       show this text
  quit                       leave`

// NewPlayCmd joins a session as a learner and drives it from stdin.
func NewPlayCmd(configPath *string) *cobra.Command {
	var sessionID, participantID, name string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a quiz session as a learner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, release, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			identity, err := resolveIdentity(ctx, store, sessionID, participantID, name)
			if err != nil {
				return err
			}
			push, closePush, err := openPush(cfg)
			if err != nil {
				return err
			}
			defer closePush()

			key := domain.ProgressKey{SessionID: sessionID, ParticipantID: identity.ParticipantID}
			ctrl := app.NewController(key, newAPIClient(cfg), push, store, clockwork.NewRealClock(), controllerConfig(cfg))
			defer ctrl.Close()
			if err := ctrl.Start(ctx); err != nil {
				return fmt.Errorf("start session %s: %w", sessionID, err)
			}
			log.Info().Str("participant_id", identity.ParticipantID).Str("name", identity.DisplayName).Msg("joined")

			p := &player{ctrl: ctrl, out: cmd.OutOrStdout(), defaultConfidence: controllerConfig(cfg).DefaultConfidence}
			return p.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&participantID, "participant", "", "participant id (defaults to the remembered one, or a new id)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// resolveIdentity prefers an explicit participant id, then the identity remembered for
// the session, and otherwise mints a new one. The result is remembered.
func resolveIdentity(ctx context.Context, store app.KeyValueStore, sessionID, participantID, name string) (domain.Identity, error) {
	id, ok := app.LoadIdentity(ctx, store, sessionID)
	switch {
	case participantID != "":
		if !ok || id.ParticipantID != participantID {
			id = domain.Identity{ParticipantID: participantID}
		}
	case !ok:
		id = domain.Identity{ParticipantID: uuid.NewString()}
	}
	if name != "" {
		id.DisplayName = name
	}
	if id.DisplayName == "" {
		id.DisplayName = "learner-" + id.ParticipantID[:min(6, len(id.ParticipantID))]
	}
	if err := app.SaveIdentity(ctx, store, sessionID, id); err != nil {
		return id, fmt.Errorf("remember identity: %w", err)
	}
	return id, nil
}

type player struct {
	ctrl              *app.Controller
	out               io.Writer
	defaultConfidence int
	last              renderKey
}

func (p *player) run(ctx context.Context, in io.Reader) error {
	views, unsubscribe := p.ctrl.Subscribe()
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(p.out, playHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			p.render(v)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := p.handle(ctx, line)
			if err != nil {
				fmt.Fprintf(p.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handle executes one command line. It reports whether the learner asked to quit.
func (p *player) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "quit", "q", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(p.out, playHelp)
	case "select", "s":
		if len(args) != 1 {
			return false, errors.New("usage: select <option>")
		}
		return false, p.ctrl.Select(args[0])
	case "confirm", "c":
		confidence, rationale, err := p.confirmArgs(args)
		if err != nil {
			return false, err
		}
		out, err := p.ctrl.Confirm(ctx, confidence, rationale)
		if err != nil {
			return false, err
		}
		if out.Stale {
			fmt.Fprintln(p.out, "(the question moved on before the answer was graded)")
		}
	case "retry":
		return false, p.ctrl.Retry()
	case "fix":
		if len(args) != 1 || (args[0] != "pass" && args[0] != "fail") {
			return false, errors.New("usage: fix pass|fail")
		}
		return false, p.ctrl.ResolveRemediation(args[0] == "pass")
	case "skip":
		return false, p.ctrl.DismissRemediation()
	case "next", "n":
		return false, p.ctrl.NextQuestion(ctx)
	case "finish":
		return false, p.ctrl.Finish(ctx)
	case "remediate", "answer", "practice", "done":
		return false, p.postSession(ctx, strings.ToLower(fields[0]), args)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return false, nil
}

func (p *player) confirmArgs(args []string) (int, string, error) {
	if len(args) == 0 {
		return p.defaultConfidence, "", nil
	}
	confidence, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, "", fmt.Errorf("confidence must be a number: %w", err)
	}
	return confidence, strings.Join(args[1:], " "), nil
}

func (p *player) postSession(ctx context.Context, command string, args []string) error {
	post := p.ctrl.PostSession()
	if post == nil {
		return errors.New("the session is still running")
	}
	defer p.ctrl.Notify()

	switch command {
	case "remediate":
		if err := post.BeginRemediation(ctx); err != nil {
			return err
		}
		if ticket, ok := post.Ticket(); ok {
			printTicket(p.out, ticket)
		} else if post.Degraded() {
			fmt.Fprintln(p.out, "Remediation is unavailable right now, moving on to practice.")
		}
	case "answer":
		if len(args) != 1 {
			return errors.New("usage: answer <option>")
		}
		verdict, err := post.AnswerRemediation(ctx, args[0])
		if err != nil {
			return err
		}
		mark := "incorrect"
		if verdict.Correct {
			mark = "correct"
		}
		fmt.Fprintf(p.out, "Exit ticket: %s. %s\n", mark, verdict.Feedback)
	case "practice":
		return post.BeginPractice()
	case "done":
		return post.Complete()
	}
	return nil
}

func printTicket(w io.Writer, ticket domain.ExitTicket) {
	fmt.Fprintf(w, "\n== Review ==\n%s\n", ticket.Lesson)
	if ticket.Question == nil {
		return
	}
	fmt.Fprintf(w, "%s\n", ticket.Question.Prompt)
	for _, opt := range ticket.Question.Options {
		fmt.Fprintf(w, "  [%s] %s\n", opt.ID, opt.Text)
	}
}
