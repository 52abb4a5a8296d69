package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var questionsReplace bool

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Generate starter questions for stored resources",
	Long: `Asks the LLM for a few questions per resource. Resources that already
have questions are left alone unless --replace is given.`,
	Args: cobra.NoArgs,
	RunE: runQuestions,
}

var purgeYes bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored resource",
	Long:  `Removes all resources. Their embeddings and questions are removed with them.`,
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func init() {
	questionsCmd.Flags().BoolVar(&questionsReplace, "replace", false, "regenerate questions for every resource")
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm deletion")
	rootCmd.AddCommand(questionsCmd, purgeCmd)
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	qs, err := a.RequireQuestions()
	if err != nil {
		return err
	}
	stats, err := qs.Run(ctx, questionsReplace)
	if err != nil {
		return err
	}
	return printJSON(cmd, stats)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	if !purgeYes {
		return errors.New("refusing to delete every resource without --yes")
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Resources.Purge(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Deleted %d resources.\n", n)
	return nil
}
