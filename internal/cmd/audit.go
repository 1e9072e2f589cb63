package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xdg/opsgate/internal/audit"
)

var auditTailLines int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailLines, "lines", "n", 20, "number of entries to print (0 for all)")
	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lines, err := audit.Tail(cfg.Audit.Path, auditTailLines)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
