package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-arndt/snippetd/internal/store"
)

var (
	submitIDFlag       string
	submitFileFlag     string
	submitLanguageFlag string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Store a snippet and flag it to run",
	Long: `Write a snippet into the store with its run flag set. A running daemon
picks it up on its next poll; submitting an id that is already running
replaces its source and restarts it.

Examples:
  snippetd submit --id hello --file hello.js
  echo 'console.log(1)' | snippetd submit --id one --file -`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitIDFlag, "id", "", "snippet id")
	submitCmd.Flags().StringVar(&submitFileFlag, "file", "", "source file, or - for stdin")
	submitCmd.Flags().StringVar(&submitLanguageFlag, "language", "javascript", "snippet language")
	submitCmd.MarkFlagRequired("id")
	submitCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var src []byte
	if submitFileFlag == "-" {
		src, err = io.ReadAll(cmd.InOrStdin())
	} else {
		src, err = os.ReadFile(submitFileFlag)
	}
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	err = st.SubmitSnippet(cmd.Context(), &store.Snippet{
		ID:       submitIDFlag,
		Text:     string(src),
		Language: submitLanguageFlag,
		Running:  true,
	})
	if err != nil {
		return err
	}

	sn, err := st.GetSnippet(cmd.Context(), submitIDFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "submitted %s (revision %d)\n", sn.ID, sn.Revision)
	return nil
}
