package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/download"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/session"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/config"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/server"
)

var errUnknownCommand = errors.New("unknown command")

type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	sessions     *session.Store
	orchestrator *download.Orchestrator

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "logout":
		a.sessions.Logout()
		fmt.Fprintln(a.stderr, "Logged out.")
		return nil
	case "status":
		return a.status(ctx)
	case "extend":
		return a.extend()
	case "courses":
		return a.courses(ctx, args)
	case "download":
		return a.download(ctx, args)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	username := fs.String("u", "", "Username")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(a.stdin)
	if *username == "" {
		fmt.Fprint(a.stderr, "Username: ")
		line, err := readLine(in)
		if err != nil {
			return err
		}
		*username = line
	}
	fmt.Fprint(a.stderr, "Password: ")
	password, err := a.readPassword(in)
	fmt.Fprintln(a.stderr)
	if err != nil {
		return err
	}
	if *username == "" || password == "" {
		return errors.New("username and password are required")
	}

	handle, err := a.sessions.Login(ctx, *username, password, a.cfg.Moodle.Backend)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "Logged in as %s on %s.\n", handle.Session.Username, handle.Session.BackendURL)
	return nil
}

// readPassword reads without echo when stdin is a terminal
func (a *app) readPassword(in *bufio.Reader) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}
	return readLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) status(ctx context.Context) error {
	handle, ok := a.sessions.RestoreAndValidate(ctx)
	if !ok {
		fmt.Fprintln(a.stdout, "Not logged in.")
		return nil
	}
	fmt.Fprintf(a.stdout, "Logged in as %s on %s, %d days remaining.\n",
		handle.Session.Username, handle.Session.BackendURL, a.sessions.RemainingDays())
	return nil
}

func (a *app) extend() error {
	if err := a.sessions.Extend(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Session extended, %d days remaining.\n", a.sessions.RemainingDays())
	return nil
}

func (a *app) requireSession(ctx context.Context) (*session.Handle, error) {
	handle, ok := a.sessions.RestoreAndValidate(ctx)
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: run `archiver login` first", session.ErrNoSession)
	}
	return handle, nil
}

func (a *app) courses(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("courses", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	query := fs.String("q", "", "Filter by name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handle, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	courses, err := a.orchestrator.LoadCourses(ctx, handle)
	if err != nil {
		return err
	}
	sel := a.orchestrator.LoadSelection()

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tSHORT NAME\tNAME")
	for _, course := range download.Filter(courses, *query) {
		mark := " "
		if sel.Contains(download.CourseKey(course.ID)) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", mark, course.ID, course.ShortName, course.DisplayName)
	}
	return tw.Flush()
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	query := fs.String("q", "", "Filter by name")
	all := fs.Bool("all", false, "Select every course matching -q")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handle, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	courses, err := a.orchestrator.LoadCourses(ctx, handle)
	if err != nil {
		return err
	}

	sel, err := buildSelection(a.orchestrator.LoadSelection(), courses, fs.Args(), *query, *all)
	if err != nil {
		return err
	}

	archive, err := a.orchestrator.Submit(ctx, handle, courses, sel, progressPrinter(a.stderr))
	if err != nil {
		return err
	}
	if len(archive.Skipped) > 0 {
		fmt.Fprintf(a.stderr, "Skipped %d excluded files.\n", len(archive.Skipped))
	}
	fmt.Fprintln(a.stdout, archive.Path)
	return nil
}

// buildSelection picks explicit ids when given, the filtered view with
// -all, and the remembered selection otherwise
func buildSelection(remembered download.Selection, courses []backend.Course, ids []string, query string, all bool) (download.Selection, error) {
	sel := remembered
	if len(ids) > 0 || all {
		sel = download.ClearSelection()
	}
	for _, raw := range ids {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid course id %q", raw)
		}
		key := download.CourseKey(n)
		if !sel.Contains(key) {
			sel = download.Toggle(sel, key)
		}
	}
	if all {
		sel = download.SelectAllFiltered(sel, download.Filter(courses, query))
	}
	return sel, nil
}

// progressPrinter renders progress on one terminal line; the trailing 0
// sent after completion ends the line
func progressPrinter(w io.Writer) backend.ProgressFunc {
	started := false
	return func(percent float64) {
		if percent <= 0 {
			if started {
				fmt.Fprintln(w)
			}
			started = false
			return
		}
		started = true
		fmt.Fprintf(w, "\rDownloading... %3.0f%%", percent)
	}
}

func (a *app) serve(ctx context.Context) error {
	if _, ok := a.sessions.RestoreAndValidate(ctx); !ok && ctx.Err() == nil {
		a.logger.Info("No stored session, waiting for login")
	}
	srv := server.NewServer(a.cfg, a.sessions, a.orchestrator, a.logger, a.metrics)
	return srv.Run(ctx)
}
