package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
)

var importCmd = &cobra.Command{
	Use:   "import <document.json>",
	Short: "Import an analyzed comic document",
	Long: `Import reads a comic document (pages, panels and bubbles as produced by
the analysis step) and stores it, printing the new comic id.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("user", "", "owner of the comic (default DEFAULT_USER_ID)")
	importCmd.Flags().String("title", "", "title to store (default the document's)")
}

func runImport(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	title, _ := cmd.Flags().GetString("title")

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if user == "" {
		user = cfg.DefaultUserID
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	var doc comic.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}

	st, err := openStore(cmd.Context(), cfg.Store, false)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := service.NewComicService(st, cfg.ComicCacheTTL, log).Import(cmd.Context(), user, title, doc)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), c.ID)
	return nil
}
