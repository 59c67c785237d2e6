package cmd

import (
	"fmt"
	"strings"

	"github.com/Slowpuncher24/improving-mlhiphy/base"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/spf13/cobra"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "List the built-in problems",
	Args:  cobra.NoArgs,
	RunE:  runCases,
}

func init() {
	rootCmd.AddCommand(casesCmd)
}

func runCases(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range base.Cases() {
		c, err := base.LookupCase(name)
		if err != nil {
			return err
		}
		coeffs := make([]string, len(c.Coeffs))
		for i, v := range c.Coeffs {
			coeffs[i] = fmt.Sprintf("%s=%g", c.Operator.Coeffs[i], v)
		}
		fmt.Fprintf(out, "%-20s (%s)  %s = f  [%s]\n",
			name, strings.Join(c.Operator.Vars, ", "), formatOperator(c.Operator), strings.Join(coeffs, ", "))
	}
	return nil
}

// formatOperator writes an operator as a sum of scaled partial derivatives.
func formatOperator(op kernels.Operator) string {
	var sb strings.Builder
	for k, t := range op.Terms {
		scale := t.Scale
		switch {
		case k == 0 && scale < 0:
			sb.WriteString("-")
			scale = -scale
		case scale < 0:
			sb.WriteString(" - ")
			scale = -scale
		case k > 0:
			sb.WriteString(" + ")
		}
		if scale != 1 {
			fmt.Fprintf(&sb, "%g ", scale)
		}
		if t.Coeff >= 0 {
			sb.WriteString(op.Coeffs[t.Coeff] + " ")
		}
		sb.WriteString("u")
		var sub strings.Builder
		for d, o := range t.Orders {
			sub.WriteString(strings.Repeat(op.Vars[d], o))
		}
		if sub.Len() > 0 {
			sb.WriteString("_" + sub.String())
		}
	}
	return sb.String()
}
