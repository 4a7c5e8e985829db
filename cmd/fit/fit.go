package fit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/errors"
)

// Result is what the fit command prints.
type Result struct {
	ID    string             `json:"id,omitempty"`
	Name  string             `json:"name,omitempty"`
	Curve *calibration.Curve `json:"curve"`
	Notes []string           `json:"notes,omitempty"`
}

// Command creates the fit command, which fits a calibration curve from a
// JSON list of standards and optionally stores it in the curve library.
func Command(ctx *conf.Context) *cobra.Command {
	var (
		name string
		save bool
	)

	cmd := &cobra.Command{
		Use:   "fit [standards.json]",
		Short: "Fit a calibration curve from standards",
		Long: `Fit an absorbance-concentration curve by least squares. The input is a
JSON array of {"concentration": C, "absorbance": A} objects; a null
absorbance excludes the standard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			standards, err := readStandards(args[0])
			if err != nil {
				return err
			}

			curve := calibration.Fit(standards)
			if curve == nil {
				return errors.Newf("standards in %s do not determine a curve", args[0]).
					Component("cli").
					Category(errors.CategoryNumerical).
					Context("standards", len(standards)).
					Build()
			}

			params := ctx.Settings.AnalysisParams().WithDefaults()
			out := Result{
				Name:  name,
				Curve: curve,
				Notes: curve.Check(params.MinR2, params.MinStandards),
			}

			if save {
				id, err := store(cmd, ctx.Settings, calibration.Entry{Name: name, Curve: *curve, Standards: standards})
				if err != nil {
					return err
				}
				out.ID = id
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Curve name")
	cmd.Flags().BoolVar(&save, "save", false, "Store the curve in the curve library")

	return cmd
}

func readStandards(path string) ([]calibration.Standard, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from command line
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	var standards []calibration.Standard
	if err := json.Unmarshal(data, &standards); err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	if len(standards) == 0 {
		return nil, fmt.Errorf("%s contains no standards", path)
	}
	return standards, nil
}

func store(cmd *cobra.Command, settings *conf.Settings, e calibration.Entry) (string, error) {
	s := settings.Storage
	dialector, err := calibration.Dialector(s.Type, s.Path, s.DSN)
	if err != nil {
		return "", err
	}
	lib, err := calibration.Open(dialector, s.CacheTTL)
	if err != nil {
		return "", err
	}
	defer func() { _ = lib.Close() }()

	return lib.Save(cmd.Context(), e)
}
