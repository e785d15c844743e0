// milieu is an end-to-end-encrypted sync tool for .env files. The command
// layer here is a thin shell: every operation is implemented by
// internal/sync.Engine, and this package only handles flags, prompts, and
// rendering.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/milieu-dev/milieu/internal/config"
	"github.com/milieu-dev/milieu/internal/remote"
	"github.com/milieu-dev/milieu/internal/secretstore"
	"github.com/milieu-dev/milieu/internal/sync"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the per-invocation state shared by every subcommand.
type app struct {
	profile string
	verbose int

	cfg    *config.Config
	logger *zap.Logger
	engine *sync.Engine
}

// setup runs after flag parsing and before any command body: it loads the
// global config, resolves the profile, and wires the engine.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.profile == "" {
		a.profile = cfg.ActiveProfile
	}

	if a.verbose > 0 {
		if a.logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	} else {
		a.logger = zap.NewNop()
	}

	client := remote.New(cfg.BaseURLFor(a.profile), a.logger)
	a.engine = sync.NewEngine(client, secretstore.New(), cfg, a.profile, a.logger)
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "milieu",
		Short:             "Sync encrypted .env files across machines and teammates",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.profile, "profile", "", "configuration profile to use")
	root.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "increase log verbosity (repeatable)")

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.initCmd(),
		a.cloneCmd(),
		a.addCmd(),
		a.removeCmd(),
		a.pushCmd(),
		a.pullCmd(),
		a.statusCmd(),
		a.changesCmd(),
		a.logCmd(),
		a.checkoutCmd(),
		a.branchCmd(),
		a.reposCmd(),
		a.sessionsCmd(),
		a.doctorCmd(),
		a.phraseCmd(),
	)
	return root
}

// promptLine reads one line from stdin with a visible prompt.
func promptLine(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads a line without echoing when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var (
	headline = color.New(color.Bold)
	warnText = color.New(color.FgYellow)
	okText   = color.New(color.FgGreen)
)
