package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) branchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List branches",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				infos, err := a.engine.Branches()
				if err != nil {
					return err
				}
				for _, info := range infos {
					marker := " "
					if info.Active {
						marker = "*"
					}
					fmt.Printf("%s %s (%d files)\n", marker, info.Name, info.Files)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add NAME",
			Short: "Create a branch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.engine.BranchAdd(args[0])
			},
		},
		&cobra.Command{
			Use:   "remove NAME",
			Short: "Delete a branch (not the active one)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.engine.BranchRemove(args[0])
			},
		},
		&cobra.Command{
			Use:   "set NAME",
			Short: "Switch the active branch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.engine.BranchSet(args[0])
			},
		},
	)
	return cmd
}

func (a *app) reposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List and manage repos",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List repos you can access",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				repos, err := a.engine.ListRepos(cmd.Context())
				if err != nil {
					return err
				}
				for _, repo := range repos {
					fmt.Printf("%-24s %s\n", repo.RepoName, repo.Role)
				}
				return nil
			},
		},
		a.reposManageCmd(),
	)
	return cmd
}

func (a *app) reposManageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Manage the current repo's collaborators and lifecycle",
	}

	var role string
	add := &cobra.Command{
		Use:   "add EMAIL",
		Short: "Invite a collaborator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.AccessAdd(cmd.Context(), args[0], role); err != nil {
				return err
			}
			fmt.Println("invited; once they log in, run `milieu repos manage share`")
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", "reader", "reader or writer")

	var setRole string
	set := &cobra.Command{
		Use:   "set EMAIL",
		Short: "Change a collaborator's role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.engine.AccessSet(cmd.Context(), args[0], setRole)
		},
	}
	set.Flags().StringVar(&setRole, "role", "reader", "reader or writer")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List collaborators",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				entries, err := a.engine.AccessList(cmd.Context())
				if err != nil {
					return err
				}
				for _, entry := range entries {
					status := entry.Status
					if status == "" {
						status = "active"
					}
					fmt.Printf("%-32s %-8s %s\n", entry.Email, entry.Role, status)
				}
				return nil
			},
		},
		add,
		set,
		&cobra.Command{
			Use:   "remove EMAIL",
			Short: "Revoke a collaborator's access",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.engine.AccessRemove(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "invites",
			Short: "List your pending invites",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				invites, err := a.engine.Invites(cmd.Context())
				if err != nil {
					return err
				}
				if len(invites) == 0 {
					fmt.Println("no pending invites")
					return nil
				}
				for _, invite := range invites {
					fmt.Printf("%-12s %-24s from %s\n", invite.ID, invite.RepoName, invite.FromUser)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "accept ID",
			Short: "Accept an invite",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.engine.AcceptInvite(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "reject ID",
			Short: "Reject an invite",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.engine.RejectInvite(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "share",
			Short: "Rewrap the repo key for every collaborator",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				result, err := a.engine.Share(cmd.Context())
				if err != nil {
					return err
				}
				for _, email := range result.Wrapped {
					okText.Printf("shared with %s\n", email)
				}
				for _, email := range result.MissingKey {
					warnText.Printf("%s has not logged in yet (no public key); share again later\n", email)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a repo and every object in it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				confirm, err := promptLine(fmt.Sprintf("type %q to delete it and all its history", args[0]))
				if err != nil {
					return err
				}
				if confirm != args[0] {
					fmt.Println("aborted")
					return nil
				}
				return a.engine.DeleteRepo(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func (a *app) sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.engine.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, session := range sessions {
				fmt.Printf("%-12s %-20s last seen %s\n",
					session.ID, session.Host, session.LastSeen.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that config, session, and keys are consistent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.engine.Doctor(cmd.Context())
			if err != nil {
				return err
			}
			headline.Printf("profile %s (%s)\n", report.Profile, report.BaseURL)
			check := func(label string, ok bool) {
				if ok {
					okText.Printf("  ok   %s\n", label)
				} else {
					warnText.Printf("  --   %s\n", label)
				}
			}
			check("session cached", report.HasSession)
			check("auth token", report.HasToken)
			check("user id", report.HasUserID)
			check("master key (UMK)", report.HasUMK)
			check("recovery phrase cached", report.HasPhrase)
			check("key pair derivable", report.KeypairOK)
			if report.TokenExpiry != nil {
				fmt.Printf("  token expires %s\n", report.TokenExpiry.Format("2006-01-02 15:04"))
			}
			if report.PublishedKeyMatches != nil {
				check("published key matches", *report.PublishedKeyMatches)
			}
			if report.RotationDue {
				warnText.Println("  key pair is over 90 days old; consider rotating")
			}
			if report.RemoteError != "" {
				warnText.Printf("  remote check failed: %s\n", report.RemoteError)
			}
			return nil
		},
	}
}

func (a *app) phraseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phrase",
		Short: "Inspect the cached recovery phrase",
	}
	var yes bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the recovery phrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := promptLine("this prints your recovery phrase in the clear; continue? [y/N]")
				if err != nil {
					return err
				}
				if answer != "y" && answer != "Y" {
					fmt.Println("aborted")
					return nil
				}
			}
			phrase, err := a.engine.Phrase()
			if err != nil {
				return err
			}
			fmt.Println(phrase)
			return nil
		},
	}
	show.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	cmd.AddCommand(
		show,
		&cobra.Command{
			Use:   "status",
			Short: "Report whether a phrase is cached, without printing it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cached, err := a.engine.PhraseStatus()
				if err != nil {
					return err
				}
				if cached {
					okText.Println("a recovery phrase is cached for this profile")
				} else {
					warnText.Println("no recovery phrase cached; you will need it to log in elsewhere")
				}
				return nil
			},
		},
	)
	return cmd
}
