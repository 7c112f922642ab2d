// Package stratactlcmd implements the stratactl sub-commands: inspection and
// operation of crawl generations (list, init, promote, repair, prune, sign)
// and their persisted change sets.
package stratactlcmd

import (
	"database/sql"

	"github.com/jessevdk/go-flags"
	"go.strata.dev/core/diff"
	mbp "go.strata.dev/core/mainboilerplate"
	"go.strata.dev/core/objstore"
	"go.strata.dev/core/objstore/fs"
	"go.strata.dev/core/promote"
	"go.strata.dev/core/tablestore"
)

const iniFilename = "stratactl.ini"

// StoreConfig identifies the table and object stores of a deployment.
type StoreConfig struct {
	DB      string `long:"db" env:"DB" default:"postgres://localhost/strata?sslmode=disable" description:"Relational store DSN"`
	Dialect string `long:"dialect" env:"DIALECT" default:"postgres" choice:"postgres" choice:"sqlite" description:"Relational store dialect"`
	Store   string `long:"store" env:"STORE" description:"Object store URL (s3://, gs://, azure://, or file://)"`
	FSRoot  string `long:"fs-root" env:"FS_ROOT" description:"Filesystem path which roots file:// object stores"`
}

// PromoteConfig tunes the promotion engine.
type PromoteConfig struct {
	Rules        string `long:"rules" env:"RULES" description:"Path of a tracked-field rules YAML file. Uses built-in rules if empty"`
	KeepVersions int    `long:"keep-versions" env:"KEEP_VERSIONS" default:"5" description:"Number of archived generations retained by pruning"`
	BatchSize    int    `long:"batch-size" env:"BATCH_SIZE" default:"1000" description:"Objects moved or deleted per storage batch"`
	Parallelism  int    `long:"parallelism" env:"PARALLELISM" default:"4" description:"Concurrent object operations per batch"`
}

var (
	baseCfg = new(struct {
		Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
	})
	GenerationsCfg = new(struct {
		Stores  StoreConfig   `group:"Stores" namespace:"stores" env-namespace:"STORES"`
		Promote PromoteConfig `group:"Promotion" namespace:"promote" env-namespace:"PROMOTE"`
	})
	ChangesCfg = new(struct {
		Stores StoreConfig `group:"Stores" namespace:"stores" env-namespace:"STORES"`
	})

	// CommandRegistry collects sub-commands registered by init functions, to
	// be added under the root parser by Execute.
	CommandRegistry = mbp.NewCommandRegistry()
)

// startup initializes logging, object store constructors, and diagnostics.
// It returns the panic-recovery closure of InitDiagnosticsAndRecover, which
// the command defers for the duration of its run.
func startup() func() {
	mbp.InitLog(baseCfg.Log)
	mbp.RegisterObjectStores()
	return mbp.InitDiagnosticsAndRecover(baseCfg.Diagnostics)
}

// newOrchestrator opens the configured stores and assembles the promotion
// orchestrator around them.
func newOrchestrator(stores StoreConfig, cfg PromoteConfig) *promote.Orchestrator {
	var db *sql.DB
	var dialect tablestore.Dialect
	var err error

	switch stores.Dialect {
	case "sqlite":
		db, err = sql.Open("sqlite3", stores.DB)
		dialect = tablestore.SQLite{}
	default:
		db, err = sql.Open("postgres", stores.DB)
		dialect = tablestore.Postgres{}
	}
	mbp.Must(err, "failed to open database", "dsn", stores.DB)

	if stores.FSRoot != "" {
		fs.FileSystemStoreRoot = stores.FSRoot
	}
	obj, err := objstore.Open(stores.Store)
	mbp.Must(err, "failed to open object store", "url", stores.Store)

	var rules = diff.DefaultRules()
	if cfg.Rules != "" {
		rules, err = diff.LoadRules(cfg.Rules)
		mbp.Must(err, "failed to load rules", "path", cfg.Rules)
	}

	return &promote.Orchestrator{
		Tables:  tablestore.NewStore(db, dialect),
		Objects: obj,
		Rules:   rules,
		Rename: objstore.RenameOptions{
			BatchSize:   cfg.BatchSize,
			Parallelism: cfg.Parallelism,
		},
		KeepVersions: cfg.KeepVersions,
	}
}

// newTableStore opens only the relational side, for commands which never
// touch objects.
func newTableStore(stores StoreConfig) *tablestore.Store {
	var db *sql.DB
	var dialect tablestore.Dialect
	var err error

	switch stores.Dialect {
	case "sqlite":
		db, err = sql.Open("sqlite3", stores.DB)
		dialect = tablestore.SQLite{}
	default:
		db, err = sql.Open("postgres", stores.DB)
		dialect = tablestore.Postgres{}
	}
	mbp.Must(err, "failed to open database", "dsn", stores.DB)
	return tablestore.NewStore(db, dialect)
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	mbp.Must(err, "failed to add command")
	return cmd
}

// Execute builds the command tree and runs stratactl.
func Execute() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = `stratactl is a tool for inspecting and operating crawl generations.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure stratactl with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/strata/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`

	// Subcommands that exist solely to contain and organize further nested
	// subcommands; i.e., they do nothing when executed. They must be
	// initialized here so they exist prior to registry walking.
	_ = mustAddCmd(parser.Command, "generations", "Interact with crawl generations", "", GenerationsCfg)
	_ = mustAddCmd(parser.Command, "changes", "Interact with persisted change sets", "", ChangesCfg)

	mbp.Must(CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")

	mbp.MustParseConfig(parser, iniFilename)
}
