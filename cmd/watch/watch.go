package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/calendar"
	"attendanceportal/internal/config"
	"attendanceportal/internal/grid"
	"attendanceportal/internal/poller"
	"attendanceportal/internal/session"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type watcher struct {
	cfg config.App
	log *zap.Logger
	out io.Writer
	now func() time.Time
}

func (w *watcher) flags() (*flag.FlagSet, *watchArgs) {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(w.out)
	a := &watchArgs{}
	fs.StringVar(&a.email, "email", "", "teacher account email")
	fs.StringVar(&a.course, "course", "", "course code to watch")
	fs.DurationVar(&a.interval, "interval", w.cfg.PollInterval, "refresh interval")
	fs.BoolVar(&a.start, "start", false, "start live capture when a schedule of the course is in session")
	return fs, a
}

type watchArgs struct {
	email    string
	course   string
	interval time.Duration
	start    bool
}

// run logs in and polls the course sheet until ctx ends.
func (w *watcher) run(ctx context.Context, args []string) error {
	fs, a := w.flags()
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	if a.email == "" || a.course == "" {
		fs.Usage()
		return errHelp
	}

	password := os.Getenv("WATCH_PASSWORD")
	if password == "" {
		fmt.Fprint(w.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(w.out)
		if err != nil {
			return err
		}
		password = string(pwd)
	}

	api := apiclient.New(w.cfg.BackendURL, w.cfg.HTTPTimeout)
	sessions := session.NewManager(api, session.NewMemoryStore(), w.cfg.SessionTTL, w.log)
	s, err := sessions.Login(ctx, a.email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() { _ = sessions.Logout(context.Background(), s.ID) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &tick{
		api:     s.Client(),
		loader:  grid.NewLoader(w.cfg.SemesterStart, w.cfg.SemesterEnd, w.log),
		code:    a.course,
		start:   a.start,
		log:     w.log,
		now:     w.now,
		started: make(map[string]bool),
	}
	h := poller.Start(ctx, t.run, a.interval, true, w.log, poller.WithTickHook(func(err error) {
		if apiclient.IsUnauthorized(err) {
			w.log.Warn("session rejected by the attendance api, stopping")
			cancel()
		}
	}))
	w.log.Info("watching course", zap.String("course", a.course), zap.Duration("interval", a.interval))
	<-ctx.Done()
	h.Stop()
	return nil
}

// tick is one refresh of the watched sheet.
type tick struct {
	api    *apiclient.Client
	loader *grid.Loader
	code   string
	start  bool
	log    *zap.Logger
	now    func() time.Time
	// started holds schedule id + date pairs already triggered.
	started map[string]bool
}

func (t *tick) run(ctx context.Context) error {
	view, err := t.loader.Load(ctx, t.api, t.code, grid.OrderLastName)
	if err != nil {
		return err
	}
	sum := grid.Summarize(view.Students, view.Dates, view.Grid)
	t.log.Info("attendance",
		zap.String("course", view.Course.Code),
		zap.Int("students", len(view.Students)),
		zap.Int("present", sum.Present),
		zap.Int("late", sum.Late),
		zap.Int("absent", sum.Absent),
		zap.Int("unrecorded", sum.Unrecorded))

	if !t.start {
		return nil
	}
	now := t.now()
	sched, ok := calendar.ActiveSchedule(view.Course, now)
	if !ok {
		return nil
	}
	key := sched.ID + "@" + now.Format(calendar.DateLayout)
	if t.started[key] {
		return nil
	}
	if err := t.api.StartAttendance(ctx, sched.ID); err != nil {
		return fmt.Errorf("start attendance for %s: %w", sched.ID, err)
	}
	t.started[key] = true
	t.log.Info("live capture started", zap.String("schedule_id", sched.ID))
	return nil
}
