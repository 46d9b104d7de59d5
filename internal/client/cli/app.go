package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/fidolock/internal/buildinfo"
	"github.com/dmitrijs2005/fidolock/internal/client/config"
	"github.com/dmitrijs2005/fidolock/internal/client/escrow"
	"github.com/dmitrijs2005/fidolock/internal/client/repositories/inventory"
	"github.com/dmitrijs2005/fidolock/internal/filex"
	"github.com/dmitrijs2005/fidolock/internal/flagx"
)

// Keys under which the client keeps its escrow session in the inventory
// metadata table.
const (
	metaAgentID      = "agent_id"
	metaAccessToken  = "access_token"
	metaRefreshToken = "refresh_token"
)

type App struct {
	config    *config.Config
	db        *sql.DB
	inventory inventory.Repository
	escrow    escrow.Client
	reader    *bufio.Reader
	out       io.Writer
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()

	if _, err := filex.EnsureDir(c.StateDir); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}

	db, err := inventory.Open(ctx, filepath.Join(c.StateDir, "inventory.db"))
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}
	repo := inventory.NewSQLiteRepository(db)

	esc := escrow.NewHTTPClient(c.EscrowEndpointAddr)

	// restore the escrow session saved by a previous run
	access, _ := repo.GetMeta(ctx, metaAccessToken)
	refresh, _ := repo.GetMeta(ctx, metaRefreshToken)
	esc.SetTokens(string(access), string(refresh))
	esc.OnTokensChanged(func(access, refresh string) {
		_ = repo.SetMeta(context.Background(), metaAccessToken, []byte(access))
		_ = repo.SetMeta(context.Background(), metaRefreshToken, []byte(refresh))
	})

	return &App{
		config:    c,
		db:        db,
		inventory: repo,
		escrow:    esc,
		reader:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
	}, nil
}

func (a *App) Close() error {
	if a.escrow != nil {
		_ = a.escrow.Close()
	}
	return a.db.Close()
}

func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	return a.Execute(ctx, os.Args[1:])
}

// Execute dispatches a single subcommand. Global configuration flags are
// stripped first; whatever follows the command name belongs to it.
func (a *App) Execute(ctx context.Context, args []string) error {
	args = flagx.StripArgs(args, config.GlobalFlags())
	if len(args) == 0 {
		a.usage()
		return nil
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help":
		a.usage()
		return nil
	case "format":
		return a.cmdFormat(ctx, rest)
	case "enroll":
		return a.cmdEnroll(ctx, rest)
	case "unlock":
		return a.cmdUnlock(ctx, rest)
	case "recovery-key":
		return a.cmdRecoveryKey(ctx, rest)
	case "passphrase":
		return a.cmdPassphrase(ctx, rest)
	case "list":
		return a.cmdList(ctx, rest)
	case "wipe":
		return a.cmdWipe(ctx, rest)
	case "token-init":
		return a.cmdTokenInit(ctx, rest)
	case "backup":
		return a.cmdBackup(ctx, rest)
	case "restore":
		return a.cmdRestore(ctx, rest)
	case "escrow-login":
		return a.cmdEscrowLogin(ctx, rest)
	case "escrow-sync":
		return a.cmdEscrowSync(ctx, rest)
	case "version":
		buildinfo.PrintBuildData(a.out)
		return nil
	default:
		a.usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *App) usage() {
	fmt.Fprintln(a.out, usageText)
}

const usageText = `Usage: fidolock [global flags] <command> [flags]

Commands:
  format        create a new encrypted volume container
  enroll        bind a security key to a volume
  unlock        recover the volume key with the enrolled security key
  recovery-key  generate and enroll a recovery key
  passphrase    enroll an additional passphrase
  list          show enrollments on a volume (-all: local inventory)
  wipe          remove an enrollment and its key slots
  token-init    create a software token file for tests and CI
  backup        upload a header image to the escrow service
  restore       download the latest header image
  escrow-login  register this machine with the escrow service
  escrow-sync   push pending enrollment records to the escrow service
  version       print build information

Global flags:
  -c, -config FILE  json config file
  -a URL            escrow service address
  -d DIR            state directory
  -t SECONDS        security-key operation timeout
  -k FILE           software token file (instead of a USB key)`
