// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the remaining search allowance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var info struct {
			UserType  string `json:"user_type"`
			Plan      string `json:"plan"`
			Remaining uint   `json:"remaining"`
			Limit     uint   `json:"limit"`
			UsedCount uint   `json:"used_count"`
		}
		if err := getJSON(cmd.Context(), "/v1/quota", &info); err != nil {
			return err
		}

		if info.Plan == "pro" {
			fmt.Println("Plan: pro (unlimited searches)")
			return nil
		}
		label := info.Plan
		if label == "" {
			label = info.UserType
		}
		fmt.Printf("Plan: %s\n", label)
		fmt.Printf("Used: %d of %d\n", info.UsedCount, info.Limit)
		fmt.Printf("Remaining: %d\n", info.Remaining)
		return nil
	},
}

var ensureProfileCmd = &cobra.Command{
	Use:   "register",
	Short: "Provision the server-side profile for a signed-in account",
	Long: `Register creates the free-plan profile row for the account behind
--token, if it does not exist yet. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var reply struct {
			UserID  string `json:"user_id"`
			Created bool   `json:"created"`
		}
		if err := postJSON(cmd.Context(), "/v1/ensure_profile", map[string]any{}, &reply); err != nil {
			return err
		}
		if reply.Created {
			fmt.Printf("Profile created for %s\n", reply.UserID)
		} else {
			fmt.Printf("Profile already exists for %s\n", reply.UserID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(ensureProfileCmd)
}
