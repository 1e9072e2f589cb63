package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xdg/opsgate/internal/backend"
	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/command"
	"github.com/xdg/opsgate/internal/config"
	"github.com/xdg/opsgate/internal/prompt"
)

// cliContextID is the audit context recorded for terminal requests.
const cliContextID = "cli"

var (
	runYes           bool
	runPasswordStdin bool
	runHost          string
	runUser          string
	runBody          string
)

// stdinIsTerminal reports whether confirmation prompts can be answered.
var stdinIsTerminal = func() bool { return prompt.IsTerminal(os.Stdin) }

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one command from the terminal",
	Long: `Run a single command through the same pipeline as the chat gateway:
denylist check, audit entry, confirmation, execution, and bounded output.

The confirmation is a y/N prompt on the terminal. Without a terminal, pass
--yes to confirm up front.

The command's exit code is passed through. Otherwise run exits 1 on failure,
2 when the request is rejected, and 3 when it is not confirmed.`,
}

var runShellCmd = &cobra.Command{
	Use:   "shell <command>...",
	Short: "Run a local shell command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, command.KindShell, command.Params{
			command.ParamCommand: strings.Join(args, " "),
		})
	},
}

var runSSHCmd = &cobra.Command{
	Use:   "ssh --host <host> --user <user> <command>...",
	Short: "Run a command on a remote host over SSH",
	Long: `Run a command on a remote host over SSH with password authentication.

The password is read from the terminal without echo, or from the first line
of stdin with --password-stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		return runRequest(cmd, command.KindSSH, command.Params{
			command.ParamHost:     runHost,
			command.ParamUsername: runUser,
			command.ParamPassword: password,
			command.ParamCommand:  strings.Join(args, " "),
		})
	},
}

var runHTTPGetCmd = &cobra.Command{
	Use:   "http-get <url>",
	Short: "Send an HTTP GET request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, command.KindHTTPGet, command.Params{command.ParamURL: args[0]})
	},
}

var runHTTPPostCmd = &cobra.Command{
	Use:   "http-post <url>",
	Short: "Send an HTTP POST request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, command.KindHTTPPost, command.Params{
			command.ParamURL:  args[0],
			command.ParamBody: runBody,
		})
	},
}

func init() {
	runCmd.PersistentFlags().BoolVarP(&runYes, "yes", "y", false, "confirm without prompting")

	runSSHCmd.Flags().StringVar(&runHost, "host", "", "remote host, optionally with :port")
	runSSHCmd.Flags().StringVar(&runUser, "user", "", "remote user name")
	runSSHCmd.Flags().BoolVar(&runPasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = runSSHCmd.MarkFlagRequired("host")
	_ = runSSHCmd.MarkFlagRequired("user")

	runHTTPPostCmd.Flags().StringVar(&runBody, "body", "", "request body, sent verbatim")

	runCmd.AddCommand(runShellCmd, runSSHCmd, runHTTPGetCmd, runHTTPPostCmd)
	rootCmd.AddCommand(runCmd)
}

func readPassword(cmd *cobra.Command) (string, error) {
	var reader prompt.CredentialReader
	switch {
	case runPasswordStdin:
		reader = &prompt.LineCredentialReader{In: cmd.InOrStdin()}
	case stdinIsTerminal():
		reader = prompt.NewTerminalCredentialReader(os.Stdin, cmd.ErrOrStderr())
	default:
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	return reader.ReadCredential(fmt.Sprintf("Password for %s@%s: ", runUser, runHost))
}

// runRequest submits one request as the operator and prints the reply.
func runRequest(cmd *cobra.Command, kind command.Kind, params command.Params) error {
	if !runYes && !stdinIsTerminal() {
		return errors.New("stdin is not a terminal; pass --yes to confirm without prompting")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, false); err != nil {
		return err
	}
	defer func() { _ = clog.Close() }()

	var hostKeys backend.HostKeyCallback
	if kind == command.KindSSH {
		if hostKeys, err = loadHostKeys(cfg); err != nil {
			return fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	stderr := cmd.ErrOrStderr()
	confirmer := prompt.NewConfirmer(prompt.NewStdinYesNoPrompter(cmd.InOrStdin(), stderr), stderr)
	confirmer.AutoConfirm = runYes
	d := buildDispatcher(cfg, hostKeys, confirmer)

	operator := cfg.Operator.ID
	if operator == "" {
		operator = config.DefaultOperatorID
	}

	// Ctrl-C while the prompt is open cancels the confirmation.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reply := d.Submit(ctx, command.NewRequest(kind, params, operator, cliContextID))
	for _, w := range reply.Warnings {
		_, _ = fmt.Fprintf(stderr, "Warning: %s\n", w)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), reply.Text)

	if code := exitCodeFor(reply); code != 0 {
		return NewExitCodeError(code)
	}
	return nil
}
