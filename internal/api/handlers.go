package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/specphone/specphone/internal/analysis"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
)

// CreateCurveRequest fits and stores a curve.
type CreateCurveRequest struct {
	Name      string                 `json:"name"`
	Standards []calibration.Standard `json:"standards"`
}

// CurveResponse wraps a stored curve.
type CurveResponse struct {
	analysis.Envelope
	Entry *calibration.Entry `json:"curve"`
	Notes []string           `json:"notes,omitempty"`
}

// CurveListResponse lists stored curves.
type CurveListResponse struct {
	analysis.Envelope
	Curves []calibration.Entry `json:"curves"`
}

var success = analysis.Envelope{Status: analysis.StatusSuccess}

func (s *Server) processReferences(c echo.Context) error {
	var req analysis.ProcessReferencesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	resp, err := s.quantifier.ProcessReferences(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) analyze(c echo.Context) error {
	var req analysis.AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	resp, err := s.quantifier.Analyze(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getProfile(c echo.Context) error {
	if s.profiles == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no device profile store configured")
	}
	var width int
	if err := echo.QueryParamsBinder(c).Int("width", &width).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "width must be an integer")
	}

	var p *device.Profile
	var err error
	if width > 0 {
		p, err = s.profiles.Rescaled(width)
	} else {
		p, err = s.profiles.Get()
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) serveMetrics(c echo.Context) error {
	if s.metrics == nil {
		return echo.NewHTTPError(http.StatusNotFound, "metrics are disabled")
	}
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// requireLibrary rejects curve requests when no library is configured.
func (s *Server) requireLibrary(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.library == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "curve library is disabled")
		}
		return next(c)
	}
}

func (s *Server) listCurves(c echo.Context) error {
	entries, err := s.library.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CurveListResponse{Envelope: success, Curves: entries})
}

func (s *Server) getCurve(c echo.Context) error {
	e, err := s.library.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CurveResponse{
		Envelope: success,
		Entry:    e,
		Notes:    e.Curve.Check(s.params.MinR2, s.params.MinStandards),
	})
}

func (s *Server) createCurve(c echo.Context) error {
	var req CreateCurveRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.Standards) == 0 {
		return errors.Newf("at least one standard is required").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}

	curve := calibration.Fit(req.Standards)
	if curve == nil {
		return errors.Newf("standards do not determine a curve").
			Component("api").
			Category(errors.CategoryNumerical).
			Context("standards", len(req.Standards)).
			Build()
	}

	e := calibration.Entry{Name: req.Name, Curve: *curve, Standards: req.Standards}
	id, err := s.library.Save(c.Request().Context(), e)
	if err != nil {
		return err
	}
	saved, err := s.library.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}

	s.log.Info("curve created",
		logger.String("curve_id", id),
		logger.String("name", saved.Name),
		logger.Float64("r2", curve.R2))

	return c.JSON(http.StatusCreated, CurveResponse{
		Envelope: success,
		Entry:    saved,
		Notes:    curve.Check(s.params.MinR2, s.params.MinStandards),
	})
}

func (s *Server) deleteCurve(c echo.Context) error {
	if err := s.library.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success)
}
