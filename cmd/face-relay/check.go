package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MRamiBalles/stface-relay/internal/scenario"
)

func newCheckCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check [script.yaml...]",
		Short: "Replay scenario scripts through a fresh relay and verify the frames",
		Long: `Replay scenario scripts through an in-process relay and compare every
expected frame. Without arguments the built-in scenarios are run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts, err := loadScripts(args)
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Face scenario check"))
			fmt.Println()

			failed := 0
			for _, s := range scripts {
				report := scenario.Run(context.Background(), s)
				report.Print(os.Stdout, verbose)
				if !report.Passed() {
					failed++
				}
			}

			fmt.Println()
			summary := fmt.Sprintf("%d passed, %d failed", len(scripts)-failed, failed)
			if failed > 0 {
				fmt.Println(errorStyle.Render(summary))
				return fmt.Errorf("%d scenario(s) failed", failed)
			}
			fmt.Println(successStyle.Render(summary))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every sample, not only failures")
	return cmd
}

func loadScripts(paths []string) ([]*scenario.Script, error) {
	if len(paths) == 0 {
		return scenario.Builtins()
	}
	scripts := make([]*scenario.Script, 0, len(paths))
	for _, p := range paths {
		s, err := scenario.Load(p)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// findScript resolves a built-in scenario by name, or loads a file.
func findScript(ref string) (*scenario.Script, error) {
	if _, err := os.Stat(ref); err == nil {
		return scenario.Load(ref)
	}
	builtins, err := scenario.Builtins()
	if err != nil {
		return nil, err
	}
	for _, s := range builtins {
		if s.Name == ref {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown scenario %q", ref)
}
