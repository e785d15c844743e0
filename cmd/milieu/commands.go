package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/milieu-dev/milieu/internal/sync"
)

func (a *app) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register EMAIL",
		Short: "Create a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			userID, err := a.engine.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			okText.Printf("registered %s (user %s)\n", args[0], userID)
			fmt.Println("run `milieu login` to finish setting up your keys")
			return nil
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	var phrase string
	cmd := &cobra.Command{
		Use:   "login EMAIL",
		Short: "Log in and unlock the key hierarchy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			result, err := a.engine.Login(cmd.Context(), args[0], password, phrase)
			if err != nil {
				return err
			}
			okText.Printf("logged in as %s\n", args[0])
			if result.Warning != "" {
				warnText.Printf("warning: %s\n", result.Warning)
			}
			if result.GeneratedPhrase != "" {
				headline.Println("\nYour recovery phrase (shown once, write it down):")
				fmt.Printf("\n    %s\n\n", result.GeneratedPhrase)
				fmt.Println("You will need it to log in on any other machine.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&phrase, "phrase", "", "recovery phrase (needed on a new machine)")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear cached secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.Logout(cmd.Context()); err != nil {
				return err
			}
			okText.Println("logged out")
			return nil
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a repo for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.engine.Init(cmd.Context(), name)
			if err != nil {
				return err
			}
			okText.Printf("initialized repo %s\n", m.RepoName)
			fmt.Println("track a file with `milieu add .env`")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "repo name (defaults to the folder name)")
	return cmd
}

func (a *app) cloneCmd() *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Link the current directory to an existing repo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := repo
			if name == "" {
				var err error
				if name, err = sync.FolderName(); err != nil {
					return err
				}
			}
			m, err := a.engine.Clone(cmd.Context(), name)
			if err != nil {
				return err
			}
			okText.Printf("cloned repo %s\n", m.RepoName)
			fmt.Println("fetch files with `milieu pull`")
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "repo name (defaults to the folder name)")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	var tag, branch string
	cmd := &cobra.Command{
		Use:   "add PATH",
		Short: "Start tracking a .env file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tagPtr *string
			if tag != "" {
				tagPtr = &tag
			}
			if err := a.engine.Add(args[0], tagPtr, branch); err != nil {
				return err
			}
			okText.Printf("tracking %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "semantic tag bound into the file's encryption context")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "remove PATH",
		Short: "Stop tracking a file (the local copy is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.Remove(args[0], branch); err != nil {
				return err
			}
			okText.Printf("no longer tracking %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	return cmd
}

func (a *app) pushCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Encrypt and upload local changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.engine.Push(cmd.Context(), branch)
			if err != nil {
				return err
			}
			for _, file := range result.Files {
				switch file.Outcome {
				case sync.PushUploaded:
					okText.Printf("pushed %s (v%d)\n", file.Path, file.Version)
				case sync.PushUnchanged:
					fmt.Printf("up to date: %s (v%d)\n", file.Path, file.Version)
				}
			}
			if len(result.Files) == 0 {
				fmt.Println("nothing tracked on branch", result.Branch)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	return cmd
}

func (a *app) pullCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download, decrypt, and reconcile remote changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.engine.Pull(cmd.Context(), branch)
			if err != nil {
				return err
			}
			for _, file := range result.Files {
				switch file.Outcome {
				case sync.PullWritten:
					okText.Printf("pulled %s (v%d)\n", file.Path, file.Version)
				case sync.PullUpToDate:
					fmt.Printf("up to date: %s\n", file.Path)
				case sync.PullLocalAhead:
					fmt.Printf("local ahead: %s (push when ready)\n", file.Path)
				case sync.PullConflict:
					warnText.Printf("CONFLICT %s: both sides changed, markers written\n", file.Path)
				case sync.PullMissingRemote:
					fmt.Printf("missing remote: %s (push it first)\n", file.Path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var branch string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare tracked files against the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.engine.Status(cmd.Context(), branch)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			headline.Printf("branch %s\n", result.Branch)
			for _, entry := range result.Entries {
				fmt.Printf("  %-24s %s\n", entry.Path, entry.Kind)
			}
			if len(result.Untracked) > 0 {
				fmt.Println("\nuntracked .env files:")
				for _, path := range result.Untracked {
					fmt.Printf("  %s\n", path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

func (a *app) changesCmd() *cobra.Command {
	var branch string
	var version int64
	cmd := &cobra.Command{
		Use:   "changes [PATH]",
		Short: "Show how a remote version differs from the local file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				tracked, err := a.engine.TrackedFiles(branch)
				if err != nil {
					return err
				}
				paths = tracked
			}
			for _, path := range paths {
				result, err := a.engine.Changes(cmd.Context(), path, branch, version)
				if err != nil {
					return err
				}
				headline.Printf("%s @ v%d\n", result.Path, result.Version)
				printDiff(result.Local, result.Remote)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	cmd.Flags().Int64Var(&version, "version", 0, "remote version to compare against (default latest)")
	return cmd
}

func (a *app) logCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "log PATH",
		Short: "Show a file's remote version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.engine.Log(cmd.Context(), args[0], branch)
			if err != nil {
				return err
			}
			limit := int(a.cfg.HistoryLimit)
			shown := 0
			for i := len(history) - 1; i >= 0 && shown < limit; i-- {
				entry := history[i]
				fmt.Printf("v%-4d %s\n", entry.Version, entry.CreatedAt.Format("2006-01-02 15:04:05"))
				shown++
			}
			if shown == 0 {
				fmt.Println("no versions yet")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	return cmd
}

func (a *app) checkoutCmd() *cobra.Command {
	var branch string
	var version int64
	cmd := &cobra.Command{
		Use:   "checkout PATH",
		Short: "Restore a file to a specific remote version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.Checkout(cmd.Context(), args[0], version, branch); err != nil {
				return err
			}
			okText.Printf("checked out %s @ v%d\n", args[0], version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (defaults to the active branch)")
	cmd.Flags().Int64Var(&version, "version", 0, "version to restore")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

// printDiff renders a minimal line diff between the local and remote
// plaintexts: line i of one side is compared with line i of the other, and
// -local/+remote pairs are emitted where they disagree.
func printDiff(local, remotePlain []byte) {
	if local == nil {
		fmt.Println("  (no local file)")
	}
	if bytes.Equal(local, remotePlain) {
		fmt.Println("  (no changes)")
		return
	}
	localLines := splitLines(local)
	remoteLines := splitLines(remotePlain)
	n := len(localLines)
	if len(remoteLines) > n {
		n = len(remoteLines)
	}
	for i := 0; i < n; i++ {
		var l, r string
		haveL, haveR := i < len(localLines), i < len(remoteLines)
		if haveL {
			l = localLines[i]
		}
		if haveR {
			r = remoteLines[i]
		}
		if haveL && haveR && l == r {
			fmt.Printf("  %s\n", l)
			continue
		}
		if haveL {
			warnText.Printf("- %s\n", l)
		}
		if haveR {
			okText.Printf("+ %s\n", r)
		}
	}
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	trimmed := bytes.TrimSuffix(data, []byte("\n"))
	parts := bytes.Split(trimmed, []byte("\n"))
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}
