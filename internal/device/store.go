package device

import (
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
)

// Store owns the process-wide device profile. Reads return copies; writes are
// serialized and optionally persisted to a YAML file.
type Store struct {
	mu      sync.RWMutex
	profile *Profile
	path    string
	log     logger.Logger
}

// NewStore creates an empty store. A non-empty path enables persistence.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		log:  logger.Global().Module(componentName),
	}
}

// Get returns a copy of the current profile or ErrProfileMissing.
func (s *Store) Get() (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return nil, errors.New(ErrProfileMissing).
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}
	p := *s.profile
	p.CameraMeta = maps.Clone(s.profile.CameraMeta)
	return &p, nil
}

// Set validates and replaces the profile, persisting it when the store has a
// path. The in-memory profile is only replaced once persistence succeeds.
func (s *Store) Set(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.SampleWidth == 0 {
		p.SampleWidth = p.ROI.W
	}
	p.CameraMeta = maps.Clone(p.CameraMeta)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := SaveFile(s.path, &p); err != nil {
			return err
		}
	}
	if s.profile != nil && s.profile.DeviceHash != p.DeviceHash {
		s.log.Info("device profile replaced",
			logger.String("previous_device", s.profile.DeviceHash),
			logger.String("device", p.DeviceHash))
	}
	s.profile = &p
	return nil
}

// Scaled returns the coefficients rescaled to newWidth from a consistent
// snapshot of the profile.
func (s *Store) Scaled(newWidth int) (PixelToWavelength, error) {
	p, err := s.Rescaled(newWidth)
	if err != nil {
		return PixelToWavelength{}, err
	}
	return p.PixelToWavelength, nil
}

// Rescaled returns a copy of the stored profile expressed in newWidth pixels.
func (s *Store) Rescaled(newWidth int) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, errors.New(ErrProfileMissing).
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Context("operation", "scale_pixel_to_wavelength").
			Build()
	}
	p := s.profile.Rescaled(newWidth)
	return &p, nil
}

// Load reads the profile from the store's path. A missing file leaves the
// store empty and is not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	p, err := LoadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("no device profile on disk", logger.String("path", s.path))
			return nil
		}
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()

	s.log.Info("device profile loaded",
		logger.String("device", p.DeviceHash),
		logger.Int("width", p.Width()))
	return nil
}

// LoadFile reads a YAML profile.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user config
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	return &p, nil
}

// SaveFile writes the profile as YAML through a temporary file and rename.
func SaveFile(path string, p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileParsing).
			Build()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component(componentName).
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // profile is not secret
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}
