package main

import (
	"fmt"
	"os"

	"github.com/ashureev/docchat/internal/backend"
	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireSession(cmd.Context())
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.backend.UploadPDF(cmd.Context(), st.Credential, args[0], f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch res.Outcome {
			case backend.UploadDuplicate:
				fmt.Fprintf(out, "%s was already uploaded: %s\n", res.FileName, res.Message)
			default:
				fmt.Fprintf(out, "%s stored (%d chunks): %s\n", res.FileName, res.Chunks, res.Message)
			}
			return nil
		},
	}
}
