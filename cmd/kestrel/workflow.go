//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-research/kestrel/graph"
	"github.com/kestrel-research/kestrel/research"
)

var (
	approveReject   bool
	approveFeedback string
)

func init() {
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "reject instead of approving")
	approveCmd.Flags().StringVar(&approveFeedback, "feedback", "", "feedback for the next revision")
}

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Start a research thread and run it to its first approval gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, store, err := newRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		threadID, status, err := runner.Start(cmd.Context(), args[0])
		if err != nil {
			var nodeErr *graph.NodeError
			if !errors.As(err, &nodeErr) {
				return err
			}
			// The failure is recorded in the thread; report it normally.
		}
		fmt.Printf("thread: %s\n", threadID)
		return printJSON(status)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <thread-id>",
	Short: "Approve or reject a paused thread and resume it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, store, err := newRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := runner.Approve(cmd.Context(), args[0], !approveReject, approveFeedback)
		if err != nil {
			var nodeErr *graph.NodeError
			if !errors.As(err, &nodeErr) {
				return err
			}
		}
		return printJSON(status)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Resume an interrupted thread from its latest checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, store, err := newRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := runner.Resume(cmd.Context(), args[0])
		if err != nil {
			var notResumable *research.NotResumableError
			if errors.As(err, &notResumable) {
				return fmt.Errorf("thread %s cannot resume: %s", args[0], notResumable.Reason)
			}
			var nodeErr *graph.NodeError
			if !errors.As(err, &nodeErr) {
				return err
			}
		}
		return printJSON(status)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <thread-id>",
	Short: "Show a thread's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, store, err := newRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := runner.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if status == nil {
			return fmt.Errorf("thread %s not found", args[0])
		}
		return printJSON(status)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <thread-id>",
	Short: "Print a thread's published report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, store, err := newRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		state, err := runner.Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if state.FinalReport == "" {
			return fmt.Errorf("thread %s has no published report yet", args[0])
		}
		fmt.Println(state.FinalReport)
		return nil
	},
}
