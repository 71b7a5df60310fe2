package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	gen "github.com/ineyio/gengateway"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		kind      string
		params    map[string]string
		skipCache bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one generation request and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.gateway.Generate(cmd.Context(), gen.GenerationRequest{
				Kind:      gen.ContentKind(kind),
				Prompt:    args[0],
				Params:    params,
				SkipCache: skipCache,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(gen.KindText), "content kind (IMAGE, TEXT, QUESTIONS, FLASHCARDS, QUIZ, CROSSWORD)")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "request parameter, e.g. -p grade_level=5")
	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass the cache lookup")
	return cmd
}
