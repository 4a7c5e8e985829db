package measure

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/specphone/specphone/internal/acquisition"
	"github.com/specphone/specphone/internal/analysis"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/mqtt"
	"github.com/specphone/specphone/internal/spectrum"
)

// frameInterval paces replayed frames like a camera preview.
const frameInterval = 20 * time.Millisecond

var imageExts = []string{".png", ".jpg", ".jpeg", ".webp"}

// Options holds the measure command flags.
type Options struct {
	Type    string
	Dirs    map[spectrum.Stage]string
	CurveID string
	Timeout time.Duration
}

// Command creates the measure command, which runs a guided measurement
// session by replaying captured camera frames from one directory per stage.
func Command(ctx *conf.Context) *cobra.Command {
	opts := Options{Dirs: make(map[spectrum.Stage]string)}
	var dark, reference, sample, reference2 string

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Run a measurement from captured frames",
		Long: `Run a measurement session from camera frames stored as images, one
directory per stage. Frames are replayed in name order until each burst is
full. Results are published over MQTT when enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for stage, dir := range map[spectrum.Stage]string{
				spectrum.StageDark:       dark,
				spectrum.StageReference:  reference,
				spectrum.StageSample:     sample,
				spectrum.StageReference2: reference2,
			} {
				if dir != "" {
					opts.Dirs[stage] = dir
				}
			}

			state, err := Run(cmd.Context(), ctx.Settings, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(state); err != nil {
				return err
			}
			if state.Err != "" {
				return fmt.Errorf("measurement failed: %s", state.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "absorbance", "Analysis type")
	cmd.Flags().StringVar(&dark, "dark", "", "Directory of dark frames")
	cmd.Flags().StringVar(&reference, "reference", "", "Directory of reference frames")
	cmd.Flags().StringVar(&sample, "sample", "", "Directory of sample frames")
	cmd.Flags().StringVar(&reference2, "reference2", "", "Directory of second reference frames (drift types)")
	cmd.Flags().StringVar(&opts.CurveID, "curve", "", "Stored curve for concentration types")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", analysis.DefaultProcessingTimeout, "Processing timeout")

	return cmd
}

// Run drives one session to its result.
func Run(ctx context.Context, settings *conf.Settings, opts Options) (acquisition.State, error) {
	log := logger.Global().Module("measure")

	store := device.NewStore(settings.Device.ProfilePath)
	if err := store.Load(); err != nil {
		return acquisition.State{}, err
	}
	var roi device.ROI
	if p, err := store.Get(); err == nil {
		roi = p.ROI
	}

	q, err := analysis.NewFromSettings(settings, store, nil)
	if err != nil {
		return acquisition.State{}, err
	}

	sessionOpts := []analysis.SessionOption{analysis.WithProcessingTimeout(opts.Timeout)}
	if opts.CurveID != "" {
		curve, err := loadCurve(ctx, settings, opts.CurveID)
		if err != nil {
			return acquisition.State{}, err
		}
		sessionOpts = append(sessionOpts, analysis.WithCurve(curve))
	}

	session := analysis.NewSession(acquisition.NewCapturer(0), q, settings.AnalysisParams(), sessionOpts...)
	defer session.Close()

	session.Subscribe(acquisition.ObserverFunc(func(s acquisition.State) {
		log.Info("phase changed", logger.String("session_id", s.SessionID), logger.String("phase", string(s.Phase)))
	}))

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), nil)
		defer client.Disconnect()
		pub := analysis.NewResultPublisher(client, settings.MQTT.Topic, 0)
		defer pub.Wait()
		session.Subscribe(pub)
	}

	if err := session.Begin(); err != nil {
		return acquisition.State{}, err
	}
	if err := session.SelectType(opts.Type); err != nil {
		return acquisition.State{}, err
	}
	if err := session.SetParams(nil); err != nil {
		return acquisition.State{}, err
	}

	for {
		stage, ok := session.State().NextStage()
		if !ok {
			break
		}
		frames, err := loadFrames(opts.Dirs[stage], roi)
		if err != nil {
			return acquisition.State{}, errors.New(err).
				Component("cli").
				Context("stage", string(stage)).
				Build()
		}
		if err := capture(ctx, session, frames); err != nil {
			return acquisition.State{}, err
		}
	}

	return session.Wait(ctx)
}

// capture replays frames into the session until the expected burst is
// recorded.
func capture(ctx context.Context, session *analysis.Session, frames [][]float64) error {
	feedCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-feedCtx.Done():
				return
			case <-ticker.C:
				session.Push(frames[i%len(frames)])
			}
		}
	})

	_, err := session.CaptureNext(ctx)
	stop()
	wg.Wait()
	return err
}

// loadFrames decodes every image in dir, in name order.
func loadFrames(dir string, roi device.ROI) ([][]float64, error) {
	if dir == "" {
		return nil, errors.Newf("no frame directory given").
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	var frames [][]float64
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !slices.Contains(imageExts, ext) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) //nolint:gosec // directory from command line
		if err != nil {
			return nil, errors.New(err).
				Component("cli").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		row, err := spectrum.DecodeFrame(data, roi)
		if err != nil {
			return nil, err
		}
		frames = append(frames, row)
	}
	if len(frames) == 0 {
		return nil, errors.Newf("no images in %s", dir).
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}
	return frames, nil
}

func loadCurve(ctx context.Context, settings *conf.Settings, id string) (*calibration.Curve, error) {
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

	e, err := lib.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &e.Curve, nil
}
