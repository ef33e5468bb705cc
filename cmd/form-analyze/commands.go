package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/biomech-analyzer/internal/app"
	"github.com/fpang/biomech-analyzer/internal/cli"
	"github.com/fpang/biomech-analyzer/internal/logging"
)

var showCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Print a stored session as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logging.Init()
		cfg := loadConfig(cmd)
		ctx := cmd.Context()

		a := cli.InitApp(ctx, cfg, app.WithoutProbe())
		defer a.Close()

		s, err := a.Store.Get(ctx, args[0])
		if err != nil {
			a.Close()
			log.Fatal().Err(err).Str("sessionId", args[0]).Msg("Failed to read session")
		}
		if s == nil {
			a.Close()
			log.Fatal().Str("sessionId", args[0]).Msg("Session not found")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(s)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index-knowledge",
	Short: "Embed the knowledge base into pgvector (requires DATABASE_URL)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logging.Init()
		cfg := loadConfig(cmd)
		ctx := cmd.Context()

		a := cli.InitApp(ctx, cfg, app.WithoutProbe())
		defer a.Close()

		n, err := a.IndexKnowledge(ctx)
		if err != nil {
			a.Close()
			log.Fatal().Err(err).Msg("Knowledge indexing failed")
		}
		fmt.Printf("Indexed %d knowledge entries\n", n)
	},
}
