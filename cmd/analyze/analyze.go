package analyze

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/specphone/specphone/internal/analysis"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
)

// Command creates the analyze command, which runs one quantification request
// from a JSON file through the configured quantifier.
func Command(ctx *conf.Context) *cobra.Command {
	var (
		references bool
		curveID    string
	)

	cmd := &cobra.Command{
		Use:   "analyze [request.json]",
		Short: "Run a quantification request from a file",
		Long: `Run an analyze request, or a process-references request with --references,
and print the response. The remote service is used when enabled in the
configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := ctx.Settings

			store := device.NewStore(settings.Device.ProfilePath)
			if err := store.Load(); err != nil {
				return err
			}
			q, err := analysis.NewFromSettings(settings, store, nil)
			if err != nil {
				return err
			}

			var resp any
			if references {
				var req analysis.ProcessReferencesRequest
				if err := readJSON(args[0], &req); err != nil {
					return err
				}
				resp, err = q.ProcessReferences(cmd.Context(), &req)
			} else {
				var req analysis.AnalyzeRequest
				if err := readJSON(args[0], &req); err != nil {
					return err
				}
				if curveID != "" {
					curve, err := loadCurve(cmd, settings, curveID)
					if err != nil {
						return err
					}
					req.Curve = &analysis.CurveDTO{Curve: *curve}
				}
				resp, err = q.Analyze(cmd.Context(), &req)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().BoolVarP(&references, "references", "r", false, "Treat the input as a process-references request")
	cmd.Flags().StringVar(&curveID, "curve", "", "Read concentrations from a stored curve")

	return cmd
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from command line
	if err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	return nil
}

func loadCurve(cmd *cobra.Command, settings *conf.Settings, id string) (*calibration.Curve, error) {
	s := settings.Storage
	dialector, err := calibration.Dialector(s.Type, s.Path, s.DSN)
	if err != nil {
		return nil, err
	}
	lib, err := calibration.Open(dialector, s.CacheTTL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lib.Close() }()

	e, err := lib.Get(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	return &e.Curve, nil
}
