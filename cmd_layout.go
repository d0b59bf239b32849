package main

import (
	"fmt"

	"github.com/iburimskiy/stroop-dots/internal/dots"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var layoutRatio float64

// layoutCmd prints one generated field, useful for checking a stimulus
// configuration before running participants.
var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Generate a dot field and print it as YAML",
	Long: `Generates one dot field from the stimulus settings in the config file and
prints it as YAML.

Example:
  stroop layout --ratio 0.25 --seed 7`,
	Args: cobra.NoArgs,
	RunE: runLayout,
}

func init() {
	layoutCmd.Flags().Float64Var(&layoutRatio, "ratio", 0.5, "fraction of blue dots, in [0,1]")
}

type layoutOutput struct {
	Ratio     float64    `yaml:"ratio"`
	Primary   int        `yaml:"primary"`
	Secondary int        `yaml:"secondary"`
	Width     float64    `yaml:"width"`
	Height    float64    `yaml:"height"`
	Dots      dots.Field `yaml:"dots"`
}

func runLayout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := fieldParams(cfg)
	p.Ratio = layoutRatio
	f, err := newGenerator(cfg).Generate(p)
	if err != nil {
		return fmt.Errorf("generate layout: %w", err)
	}
	primary, secondary := f.Counts()
	logger.Debug("layout generated", zap.Int("primary", primary), zap.Int("secondary", secondary))

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	return enc.Encode(layoutOutput{
		Ratio:     p.Ratio,
		Primary:   primary,
		Secondary: secondary,
		Width:     p.Bounds.Width,
		Height:    p.Bounds.Height,
		Dots:      f,
	})
}
