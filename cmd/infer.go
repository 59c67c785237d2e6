package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Slowpuncher24/improving-mlhiphy/base"
	"github.com/Slowpuncher24/improving-mlhiphy/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var (
	inferConfig   string
	inferCase     string
	inferSamples  int
	inferRestarts int
	inferMethod   string
	inferOutput   string
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Fit the hyperparameters and PDE coefficients",
	Long: `Fit the kernel hyperparameters and PDE coefficients of a problem by
multi-start minimisation of the negative log marginal likelihood.

Examples:
  mlhiphy infer --case phi-reaction --samples 20
  mlhiphy infer --config run.yaml --method cg --output text`,
	Args: cobra.NoArgs,
	RunE: runInfer,
}

func init() {
	rootCmd.AddCommand(inferCmd)

	inferCmd.Flags().StringVarP(&inferConfig, "config", "c", "", "YAML config file")
	inferCmd.Flags().StringVar(&inferCase, "case", "", "Built-in case, overrides the config")
	inferCmd.Flags().IntVarP(&inferSamples, "samples", "n", 0, "Number of simulated points, overrides the config")
	inferCmd.Flags().IntVarP(&inferRestarts, "restarts", "r", 0, "Number of restarts, overrides the config")
	inferCmd.Flags().StringVarP(&inferMethod, "method", "m", "", "Optimiser, overrides the config")
	inferCmd.Flags().StringVarP(&inferOutput, "output", "o", "auto", "Output format (auto, yaml, text)")
}

// loadConfig reads the config file, if any, applies the flag overrides and
// validates the result.
func loadConfig(path string, override func(cfg *config.Config)) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	override(cfg)
	return cfg, cfg.Validate()
}

type report struct {
	Run          string       `yaml:"run"`
	Problem      string       `yaml:"problem"`
	Method       string       `yaml:"method"`
	NLML         float64      `yaml:"nlml"`
	X            []float64    `yaml:"x"`
	Params       []base.Param `yaml:"params"`
	Truth        []float64    `yaml:"truth,omitempty"`
	Restarts     int          `yaml:"restarts"`
	Failed       int          `yaml:"failed"`
	Runtime      string       `yaml:"runtime"`
	Coefficients []float64    `yaml:"-"`
}

func runInfer(cmd *cobra.Command, args []string) error {
	output, err := outputFormat(cmd.OutOrStdout(), inferOutput)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(inferConfig, func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("case") {
			cfg.Problem.Case = inferCase
		}
		if flags.Changed("samples") {
			cfg.Problem.Samples = inferSamples
		}
		if flags.Changed("restarts") {
			cfg.Optimizer.Restarts = inferRestarts
		}
		if flags.Changed("method") {
			cfg.Optimizer.Method = inferMethod
		}
	})
	if err != nil {
		return err
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, fam, err := cfg.Problem.Build()
	if err != nil {
		return err
	}
	opts, err := cfg.Objective.Options()
	if err != nil {
		return err
	}
	model, err := base.NewModel(data, fam, logger, opts...)
	if err != nil {
		return err
	}
	settings, err := cfg.Optimizer.Settings()
	if err != nil {
		return err
	}

	est, err := model.Fit(cmd.Context(), settings)
	if err != nil {
		return err
	}
	rep := report{
		Run:          est.Run.ID.String(),
		Problem:      fam.Operator().Name,
		Method:       string(est.Run.Method),
		NLML:         est.NLML,
		X:            est.X,
		Params:       est.Params,
		Restarts:     len(est.Run.Restarts),
		Failed:       est.Run.Failed(),
		Runtime:      est.Run.Runtime.String(),
		Coefficients: est.Coefficients,
	}
	if cfg.Problem.Data == "" && cfg.Problem.Operator == nil {
		c, _ := base.LookupCase(cfg.Problem.Case)
		rep.Truth = c.Coeffs
	}
	if output == "text" {
		return writeText(cmd.OutOrStdout(), rep)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	return enc.Encode(rep)
}

// outputFormat resolves "auto" to text on a terminal and YAML otherwise.
func outputFormat(w io.Writer, format string) (string, error) {
	switch format {
	case "yaml", "text":
		return format, nil
	case "auto":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return "text", nil
		}
		return "yaml", nil
	}
	return "", fmt.Errorf("unknown output format %q", format)
}

func writeText(w io.Writer, rep report) error {
	fmt.Fprintf(w, "run %s: %s, %s\n", rep.Run, rep.Problem, rep.Method)
	fmt.Fprintf(w, "nlml %.10g after %d restarts (%d failed) in %s\n", rep.NLML, rep.Restarts, rep.Failed, rep.Runtime)
	for _, p := range rep.Params {
		fmt.Fprintf(w, "  %-10s %.6g\n", p.Name, p.Value)
	}
	if len(rep.Truth) > 0 {
		for i, v := range rep.Truth {
			fmt.Fprintf(w, "  coefficient %d: %.6g (true %g)\n", i, rep.Coefficients[i], v)
		}
	}
	return nil
}
