package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"moodpair/backend/internal/app"
	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/config"
	"moodpair/backend/internal/logger"
	"moodpair/backend/internal/models"

	"github.com/spf13/pflag"
)

const usage = `Usage: admin <command> [flags]

Commands:
  sweep                          evict stale queue entries, expire sessions, purge old messages
  end <session_id> [--reason r]  end a session (manual, timeout, partner_left)
  stats <session_id> --user u    show a session as seen by participant u
  sessions <user_id> [--limit n] list the sessions of a user, newest first
  health                         check the configured backends
`

func main() {
	_ = config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn("Store backend is memory: the admin CLI only sees its own empty process")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := run(ctx, a.Engine, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, engine *chathub.Engine, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(out, usage)
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "sweep":
		return sweep(ctx, engine, out)
	case "end":
		return endSession(ctx, engine, rest, out)
	case "stats":
		return stats(ctx, engine, rest, out)
	case "sessions":
		return listSessions(ctx, engine, rest, out)
	case "health":
		return health(ctx, engine, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func sweep(ctx context.Context, engine *chathub.Engine, out io.Writer) error {
	report, err := engine.MaintenanceSweep(ctx)
	fmt.Fprintf(out, "queue entries evicted: %d\nsessions expired: %d\nmessages purged: %d\n",
		report.QueueEvicted, report.SessionsExpired, report.MessagesPurged)
	return err
}

func endSession(ctx context.Context, engine *chathub.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("end", pflag.ContinueOnError)
	fs.SetOutput(out)
	reason := fs.String("reason", string(models.EndManual), "end reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: end <session_id>", errUsage)
	}

	sess, err := engine.EndConversation(ctx, fs.Arg(0), *reason)
	if err != nil {
		return err
	}
	if sess == nil {
		fmt.Fprintf(out, "Session %s does not exist.\n", fs.Arg(0))
		return nil
	}
	fmt.Fprintf(out, "Session %s is %s (%s).\n", sess.SessionID, sess.Status, sess.EndReason)
	return nil
}

func stats(ctx context.Context, engine *chathub.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	fs.SetOutput(out)
	user := fs.StringP("user", "u", "", "participant to view the session as")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *user == "" {
		return fmt.Errorf("%w: stats <session_id> --user <user_id>", errUsage)
	}

	st, err := engine.SessionStats(ctx, fs.Arg(0), *user)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session:   %s\nemotion:   %s\nstatus:    %s\npartner:   %s\nmessages:  %d\ntime left: %s\nexpires:   %s\n",
		st.SessionID, st.EmotionTag, st.Status, st.PartnerID, st.MessageCount,
		time.Duration(st.TimeLeft)*time.Second, st.ExpiresAt.Format(time.RFC3339))
	if st.EndedAt != nil {
		fmt.Fprintf(out, "ended:     %s (%s)\n", st.EndedAt.Format(time.RFC3339), st.EndReason)
	}
	return nil
}

func listSessions(ctx context.Context, engine *chathub.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
	fs.SetOutput(out)
	limit := fs.IntP("limit", "n", 10, "maximum number of sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: sessions <user_id>", errUsage)
	}

	list, err := engine.ListSessions(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	for _, s := range list {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.SessionID, s.EmotionTag, s.Status, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func health(ctx context.Context, engine *chathub.Engine, out io.Writer) error {
	report := engine.Health(ctx)
	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s: %s\n", name, report.Components[name])
	}
	fmt.Fprintf(out, "queue size: %d\n", report.QueueSize)
	if !report.Healthy {
		return errors.New("unhealthy")
	}
	return nil
}
