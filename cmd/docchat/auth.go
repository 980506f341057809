package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type credentialFlags struct {
	Email    string
	Password string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&f.Password, "password", "", "Account password (prompted when omitted; DOCCHAT_PASSWORD is also read)")
	_ = cmd.MarkFlagRequired("email")
}

// password returns the flag, the environment variable, or a prompt answer,
// in that order.
func (f *credentialFlags) password(cmd *cobra.Command) (string, error) {
	if f.Password != "" {
		return f.Password, nil
	}
	if env := os.Getenv("DOCCHAT_PASSWORD"); env != "" {
		return env, nil
	}
	return promptPassword(cmd.ErrOrStderr(), os.Stdin)
}

func promptPassword(out io.Writer, in *os.File) (string, error) {
	fmt.Fprint(out, "Password: ")
	defer fmt.Fprintln(out)

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCmd(a *app) *cobra.Command {
	flags := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := flags.password(cmd)
			if err != nil {
				return err
			}
			token, err := a.backend.Login(cmd.Context(), flags.Email, pw)
			if err != nil {
				return err
			}
			return a.signIn(cmd, token)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	flags := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := flags.password(cmd)
			if err != nil {
				return err
			}
			if _, err := a.backend.Signup(cmd.Context(), flags.Email, pw); err != nil {
				return err
			}
			token, err := a.backend.Login(cmd.Context(), flags.Email, pw)
			if err != nil {
				return err
			}
			return a.signIn(cmd, token)
		},
	}
	flags.bind(cmd)
	return cmd
}

func (a *app) signIn(cmd *cobra.Command, token string) error {
	if err := a.sessions.Login(cmd.Context(), token); err != nil {
		return err
	}
	if !a.sessions.IsAuthenticated() {
		return errors.New("the received credential is invalid or expired")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", a.sessions.Identity())
	return nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.Revalidate(cmd.Context()); err != nil {
				return err
			}
			st := a.sessions.State()
			if !st.Authenticated {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", st.Identity)
			return nil
		},
	}
}
