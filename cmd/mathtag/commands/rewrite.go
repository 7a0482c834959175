package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tyxk8160/mathtag"
)

func newRewriteCommand(g *globals) *cobra.Command {
	var (
		fragment bool
		minify   bool
		encoding string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Rewrite one HTML document to stdout (reads stdin without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
				name = "stdin"
			)
			if len(args) == 1 {
				name = args[0]
				data, err = os.ReadFile(name)
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			opts := g.config.Options(g.logger)
			if cmd.Flags().Changed("minify") {
				opts = append(opts, mathtag.WithMinify(minify))
			}
			rw := mathtag.New(opts...)

			if encoding == "" {
				encoding = g.config.Encoding
			}

			var (
				out    string
				result mathtag.Result
			)
			switch {
			case fragment:
				out, result, err = rw.ProcessFragment(string(data))
			case encoding != "":
				var doc *mathtag.Document
				doc, err = mathtag.ParseDocumentEncoding(bytes.NewReader(data), encoding)
				if err == nil {
					out, result, err = rw.ProcessDocument(doc)
				}
			default:
				out, result, err = rw.Process(bytes.NewReader(data), "text/html")
			}
			if err != nil {
				return err
			}

			if _, err := io.WriteString(cmd.OutOrStdout(), out); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			if !quiet {
				printSummary(cmd.ErrOrStderr(), name, result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&fragment, "fragment", "f", false, "treat input as a body fragment instead of a full document")
	cmd.Flags().BoolVar(&minify, "minify", false, "minify output (overrides config)")
	cmd.Flags().StringVar(&encoding, "encoding", "", "input encoding label (default: detect)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print a summary")
	return cmd
}
