package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-logger/glog"
	"github.com/nats-io/nats.go"
	_ "modernc.org/sqlite"

	wizard "github.com/goliatone/go-wizard"
	"github.com/goliatone/go-wizard/logadapter"
	"github.com/goliatone/go-wizard/notify"
	"github.com/goliatone/go-wizard/session"
	"github.com/goliatone/go-wizard/store"
)

// Globals are shared by every command.
type Globals struct {
	LogLevel string `help:"Log level." default:"info" enum:"trace,debug,info,warn,error" env:"WIZARDCTL_LOG_LEVEL"`
	LogJSON  bool   `help:"Emit JSON logs." env:"WIZARDCTL_LOG_JSON"`
}

// CLI is the wizardctl command tree.
type CLI struct {
	Globals

	Validate ValidateCmd `cmd:"" help:"Check a wizard definition file."`
	Run      RunCmd      `cmd:"" help:"Replay an operation script against a persisted session."`
	Sweep    SweepCmd    `cmd:"" help:"Close stored sessions idle past a TTL."`
}

type ValidateCmd struct {
	Definition string `help:"Definition file (YAML or JSON)." required:"" type:"existingfile" short:"d"`
}

func (c *ValidateCmd) Run(g *Globals, k *kong.Context) error {
	def, _, err := loadDefinition(c.Definition)
	if err != nil {
		return err
	}
	fmt.Fprintf(k.Stdout, "ok: %s has %d steps\n", def.ID, len(def.Steps))
	return nil
}

type RunCmd struct {
	Definition    string        `help:"Definition file (YAML or JSON)." required:"" type:"existingfile" short:"d"`
	Script        string        `help:"Operation script (YAML or JSON)." required:"" type:"existingfile" short:"s"`
	DB            string        `help:"SQLite database for sessions. In-memory when empty." env:"WIZARDCTL_DB"`
	Session       string        `help:"Resume this session id instead of starting one."`
	NATSURL       string        `name:"nats-url" help:"Publish state changes to this NATS server." env:"WIZARDCTL_NATS_URL"`
	SubmitTimeout time.Duration `help:"Bound for each submit call." default:"30s"`
}

func (c *RunCmd) Run(g *Globals, k *kong.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(g, k.Stderr)
	def, reg, err := loadDefinition(c.Definition)
	if err != nil {
		return err
	}
	script, err := loadScript(c.Script)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(c.DB)
	if err != nil {
		return err
	}
	defer closeStore()

	mgr, err := session.NewManager(st,
		session.StaticRegistries(map[string]*wizard.Registry{def.ID: reg}),
		session.WithLogger(logger),
		session.WithWizardOptions(wizard.WithSubmitTimeout(c.SubmitTimeout)),
	)
	if err != nil {
		return err
	}

	var sess *session.Session
	if strings.TrimSpace(c.Session) != "" {
		sess, err = mgr.Resume(ctx, c.Session)
	} else {
		sess, err = mgr.Start(ctx, def.ID)
	}
	if err != nil {
		return err
	}
	logger.Info("session %s ready type=%s", sess.ID(), sess.Type())

	if c.NATSURL != "" {
		nc, err := nats.Connect(c.NATSURL, nats.Name("wizardctl"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		}()
		pub, err := notify.NewNATSPublisher(nc, notify.WithLogger(logger))
		if err != nil {
			return err
		}
		defer pub.Attach(sess.Wizard()).Unsubscribe()
	}

	if err := replay(ctx, sess.Wizard(), script, k.Stdout); err != nil {
		return err
	}
	return sess.Err()
}

type SweepCmd struct {
	DB   string        `help:"SQLite database holding sessions." required:"" env:"WIZARDCTL_DB"`
	Idle time.Duration `help:"Close sessions not updated within this duration." default:"24h"`
}

func (c *SweepCmd) Run(g *Globals, k *kong.Context) error {
	logger := newLogger(g, k.Stderr)
	st, closeStore, err := openStore(c.DB)
	if err != nil {
		return err
	}
	defer closeStore()

	mgr, err := session.NewManager(st, session.StaticRegistries(nil), session.WithLogger(logger))
	if err != nil {
		return err
	}
	janitor, err := session.NewJanitor(mgr, c.Idle)
	if err != nil {
		return err
	}
	closed, err := janitor.RunNow(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(k.Stdout, "closed %d sessions\n", len(closed))
	for _, id := range closed {
		fmt.Fprintln(k.Stdout, id)
	}
	return nil
}

func loadDefinition(path string) (wizard.Definition, *wizard.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wizard.Definition{}, nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := wizard.ParseDefinition(data)
	if err != nil {
		return def, nil, err
	}
	reg, err := wizard.BuildRegistry(def, nil)
	if err != nil {
		return def, nil, err
	}
	return def, reg, nil
}

func openStore(path string) (store.Store, func(), error) {
	if strings.TrimSpace(path) == "" {
		return store.NewInMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	st, err := store.NewSQLiteStore(db, "")
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return st, func() { _ = db.Close() }, nil
}

func newLogger(g *Globals, out io.Writer) wizard.Logger {
	if g.LogJSON {
		return logadapter.FromGLog(glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(g.LogLevel),
		))
	}
	return logadapter.FromGLog(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(g.LogLevel),
	))
}

func newParser(cli *CLI, opts ...kong.Option) (*kong.Kong, error) {
	base := []kong.Option{
		kong.Name("wizardctl"),
		kong.Description("Validate wizard definitions and replay wizard sessions."),
		kong.UsageOnError(),
	}
	return kong.New(cli, append(base, opts...)...)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	parser.FatalIfErrorf(ctx.Run(&cli.Globals))
}
