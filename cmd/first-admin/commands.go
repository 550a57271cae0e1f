// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Cisco-Talos/FIRST-server/services/core/engines"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

func newRootCmd() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:           "first-admin",
		Short:         "Administer FIRST users and similarity engines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "data/first.db",
		"path to the FIRST SQLite database")

	openStore := func() (*store.Store, error) {
		if env := os.Getenv("FIRST_DB_PATH"); env != "" && !root.PersistentFlags().Changed("db") {
			dbPath = env
		}
		return store.Open(dbPath)
	}

	root.AddCommand(newUserCmd(openStore))
	root.AddCommand(newEngineCmd(openStore))
	return root
}

func newUserCmd(openStore func() (*store.Store, error)) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage analyst accounts",
	}

	var name, email string
	create := &cobra.Command{
		Use:   "create <handle>",
		Short: "Register an analyst and print the generated api key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			user, err := s.CreateUser(context.Background(), name, email, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created %s\napi key: %s\n", user.Tag(), user.APIKey)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "contact email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			users, err := s.Users(context.Background())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tEMAIL\tAPI KEY\tACTIVE")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", u.Tag(), u.Email, u.APIKey, u.Active)
			}
			return w.Flush()
		},
	}

	userCmd.AddCommand(create, list,
		setUserActiveCmd(openStore, "enable", true),
		setUserActiveCmd(openStore, "disable", false))
	return userCmd
}

func setUserActiveCmd(openStore func() (*store.Store, error), verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <handle#NNNN>",
		Short: verb + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.SetUserActive(context.Background(), args[0], active)
		},
	}
}

func newEngineCmd(openStore func() (*store.Store, error)) *cobra.Command {
	engineCmd := &cobra.Command{
		Use:   "engine",
		Short: "Manage the similarity engine catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries and the compiled-in classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.Engines(context.Background(), false)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCLASS\tACTIVE")
			for _, e := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", e.ID, e.Name, e.ClassName, e.Active)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\navailable classes: %v\n", engines.RegisteredClasses())
			return nil
		},
	}

	var description string
	install := &cobra.Command{
		Use:   "install <name> <class>",
		Short: "Install or refresh a catalog entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			engine, err := s.InstallEngine(context.Background(), args[0], description, args[1], 0)
			if err != nil {
				return err
			}
			fmt.Printf("installed %s (id %d, class %s)\n", engine.Name, engine.ID, engine.ClassName)
			return nil
		},
	}
	install.Flags().StringVar(&description, "description", "", "engine description shown to analysts")

	engineCmd.AddCommand(list, install,
		setEngineActiveCmd(openStore, "enable", true),
		setEngineActiveCmd(openStore, "disable", false))
	return engineCmd
}

func setEngineActiveCmd(openStore func() (*store.Store, error), verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: verb + " a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.SetEngineActive(context.Background(), args[0], active)
		},
	}
}
