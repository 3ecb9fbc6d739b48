package main

import (
	"fmt"
	"log"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/persistence"
	"github.com/voxchat/voxchat/types"
)

// A very simple CLI tool for the administration of voxchat users and history.

var (
	configPath   string
	historyCount int

	persister persistence.Persister
)

var rootCmd = &cobra.Command{
	Use:          "voxchat-admin",
	Short:        "administration tool for the voxchat server",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flagSet := config.GetFlagSet()
		globalConfig, err := config.ReadConfiguration(configPath, flagSet)
		if err != nil {
			return err
		}
		if globalConfig.LogLevel != "" {
			globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
		}
		persister, err = persistence.NewPersister(globalConfig)
		if err != nil {
			return err
		}
		if persister == nil {
			return fmt.Errorf("no persistence configured")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if persister != nil {
			persister.Close()
		}
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "list all user records, most recently seen first",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := persister.GetUsers()
		if err != nil {
			return err
		}
		for _, user := range users {
			flags := ""
			if user.IsBanned {
				flags += " BANNED"
			}
			if user.IsMuted {
				flags += " MUTED"
			}
			fmt.Printf("%-24s lastSeen=%s ip=%s%s\n", user.Username, user.LastSeen.Format("2006-01-02 15:04:05"), user.IP, flags)
		}
		return nil
	},
}

var banCmd = &cobra.Command{
	Use:   "ban <username>",
	Short: "flag a user record as banned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return persister.SetUserBanned(args[0], true)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban <username>",
	Short: "remove the banned flag from a user record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return persister.SetUserBanned(args[0], false)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "print the most recent public messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		messages, err := persister.GetPublicHistory(historyCount)
		if err != nil {
			return err
		}
		for _, message := range messages {
			prefix := message.Sender
			if message.Sender == types.SystemSender {
				prefix = "*"
			}
			fmt.Printf("%s %s: %s\n", message.Timestamp.Format("2006-01-02 15:04:05"), prefix, message.Text)
		}
		return nil
	},
}

func main() {
	log.SetFlags(0)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	historyCmd.Flags().IntVarP(&historyCount, "count", "n", 50, "number of messages to print")
	rootCmd.AddCommand(usersCmd, banCmd, unbanCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
