package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/globals"
	"github.com/jkettu/huddle/persistence"
	"github.com/jkettu/huddle/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// A very simple CLI tool for the administration of huddle users, groups
// and message history.

var configPath = pflag.StringP("config", "c", "", "path to config file or directory")

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	printJSON := func(v interface{}) {
		raw, err := json.Marshal(v)
		if err != nil {
			globals.AppLogger.Error("could not marshal", "error", err)
			return
		}
		fmt.Println(string(raw))
	}

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show users, groups or history",
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show all known users",
		Run: func(cmd *cobra.Command, args []string) {
			users, err := persister.GetUsers()
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			printJSON(users)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show one user",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			if err := persister.GetUser(&user); err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdShowGroups = &cobra.Command{
		Use:   "groups",
		Short: "Show all groups",
		Run: func(cmd *cobra.Command, args []string) {
			groups, err := persister.GetGroups()
			if err != nil {
				globals.AppLogger.Error("could not get groups", "error", err)
				return
			}
			printJSON(groups)
		},
	}
	var cmdShowGroup = &cobra.Command{
		Use:   "group [group id]",
		Short: "Show one group",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			group, err := persister.GetGroup(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get group", "error", err)
				return
			}
			printJSON(group)
		},
	}
	var cmdHistory = &cobra.Command{
		Use:   "history [room id]",
		Short: "Show the message history of a room",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			history, err := persister.RoomHistory(args[0], 0)
			if err != nil {
				globals.AppLogger.Error("could not get history", "error", err)
				return
			}
			printJSON(history)
		},
	}
	var cmdPurge = &cobra.Command{
		Use:   "purge [max age in days]",
		Short: "Delete messages older than the given number of days",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			days, err := strconv.Atoi(args[0])
			if err != nil || days <= 0 {
				globals.AppLogger.Error("invalid age", "arg", args[0])
				return
			}
			cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			count, err := persister.DeleteMessagesBefore(cutoff)
			if err != nil {
				globals.AppLogger.Error("could not purge messages", "error", err)
				return
			}
			fmt.Printf("deleted %d messages\n", count)
		},
	}

	var rootCmd = &cobra.Command{Use: "huddle-admin"}
	rootCmd.AddCommand(cmdShow, cmdHistory, cmdPurge)
	cmdShow.AddCommand(cmdShowUsers, cmdShowUser, cmdShowGroups, cmdShowGroup)
	if err := rootCmd.Execute(); err != nil {
		globals.AppLogger.Error("command failed", "error", err)
	}
}
