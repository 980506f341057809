package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/docchat/internal/backend"
	"github.com/ashureev/docchat/internal/stream"
	"github.com/spf13/cobra"
)

type askFlags struct {
	NoStream       bool
	ConversationID string
	TopK           int
	Alpha          float64
	UseMMR         bool
}

func newAskCmd(a *app) *cobra.Command {
	flags := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about your documents",
		Long: `Ask a question about your uploaded documents. The answer is streamed
token by token unless --no-stream is given.

Examples:
  docchat ask "Summarize the uploaded report"
  docchat ask --top-k 10 --alpha 0.5 "Which sections mention pricing?"`,
		Args: cobra.MinimumNArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			r := a.cfg.Retrieval
			if !cmd.Flags().Changed("top-k") {
				flags.TopK = r.TopK
			}
			if !cmd.Flags().Changed("alpha") {
				flags.Alpha = r.Alpha
			}
			if !cmd.Flags().Changed("mmr") {
				flags.UseMMR = r.UseMMR
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd, strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.NoStream, "no-stream", false, "Wait for the full answer instead of streaming")
	cmd.Flags().StringVar(&flags.ConversationID, "conversation", "", "Continue an existing conversation")
	cmd.Flags().IntVar(&flags.TopK, "top-k", 5, "Number of chunks to retrieve")
	cmd.Flags().Float64Var(&flags.Alpha, "alpha", 0.7, "Blend between vector (1.0) and keyword (0.0) scoring")
	cmd.Flags().BoolVar(&flags.UseMMR, "mmr", true, "Diversify retrieved chunks")

	return cmd
}

func (a *app) ask(cmd *cobra.Command, question string, flags *askFlags) error {
	st, err := a.requireSession(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if flags.NoStream {
		ans, err := a.backend.Chat(cmd.Context(), st.Credential, backend.ChatRequest{
			Question: question,
			TopK:     flags.TopK,
			Alpha:    flags.Alpha,
			UseMMR:   flags.UseMMR,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ans.Answer)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &tokenPrinter{out: out}
	demux := stream.New(a.dialer(), stream.WithLogger(a.logger))
	sess, err := demux.Open(ctx, stream.Params{
		Question:       question,
		Credential:     st.Credential,
		ConversationID: flags.ConversationID,
		TopK:           flags.TopK,
		Alpha:          flags.Alpha,
		UseMMR:         flags.UseMMR,
	}, printer)
	if err != nil {
		return err
	}
	<-sess.Done()

	return printer.result(sess)
}

// tokenPrinter writes tokens as they arrive.
type tokenPrinter struct {
	stream.NopHandler
	out io.Writer
	err error
}

func (p *tokenPrinter) OnToken(text string) {
	fmt.Fprint(p.out, text)
}

func (p *tokenPrinter) OnEnd() {
	fmt.Fprintln(p.out)
}

func (p *tokenPrinter) OnError(err error) {
	p.err = err
}

func (p *tokenPrinter) result(sess *stream.Session) error {
	if sess.Reason() == stream.ReasonCancel {
		fmt.Fprintln(p.out)
		return context.Canceled
	}
	return p.err
}
