// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main is the scholarstream CLI: a terminal client for the
// searchd streaming paper search service.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "scholarstream",
	Short: "Search academic venues with live pipeline progress",
	Long: `scholarstream searches curated journals and conference proceedings through
the searchd service. The search pipeline (keyword rewrite, retrieval,
abstract enrichment, relevance filtering) streams its progress live.

Anonymous use is limited to a few searches; sign in with --token for a
registered allowance.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./scholarstream.yaml or ~/.config/scholarstream/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "searchd base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for a registered account")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("scholarstream")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if dir, err := configDir(); err == nil {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetDefault("server", "http://localhost:12310")
	viper.SetEnvPrefix("SCHOLARSTREAM")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "scholarstream"), nil
}

// anonID returns this machine's persisted anonymous identity, minting
// and storing one on first use. Server-side quota is keyed on it, so
// it must survive between runs.
func anonID() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	path := filepath.Join(dir, "anon_id")

	raw, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persist anon id: %w", err)
	}
	return id, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
