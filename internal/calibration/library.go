package calibration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
)

// ErrCurveNotFound is returned when no curve exists for an id.
var ErrCurveNotFound = errors.NewStd("calibration curve not found")

// slowQueryThreshold logs queries slower than this at WARN.
const slowQueryThreshold = 200 * time.Millisecond

// Entry is a named curve with the standards it was fitted from.
type Entry struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Curve     Curve      `json:"curve"`
	Standards []Standard `json:"standards,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// clone returns a copy of e that shares no pointers with it.
func (e Entry) clone() Entry {
	e.Curve = e.Curve.Clone()
	standards := make([]Standard, len(e.Standards))
	for i, st := range e.Standards {
		standards[i] = Standard{Concentration: st.Concentration, Absorbance: clonePtr(st.Absorbance)}
	}
	if e.Standards != nil {
		e.Standards = standards
	}
	return e
}

// CurveRecord is the database row for an Entry.
type CurveRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"index;size:255"`
	Slope     float64
	Intercept float64
	R2        float64
	SEE       float64
	SM        *float64
	SB        *float64
	LOD       *float64
	LOQ       *float64
	RangeMin  *float64
	RangeMax  *float64
	N         int
	XMean     float64
	Standards string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName pins the table name across drivers.
func (CurveRecord) TableName() string { return "calibration_curves" }

func toRecord(e *Entry) (*CurveRecord, error) {
	standards, err := json.Marshal(e.Standards)
	if err != nil {
		return nil, err
	}
	rec := &CurveRecord{
		ID:        e.ID,
		Name:      e.Name,
		Slope:     e.Curve.Slope,
		Intercept: e.Curve.Intercept,
		R2:        e.Curve.R2,
		SEE:       e.Curve.SEE,
		SM:        e.Curve.SM,
		SB:        e.Curve.SB,
		LOD:       e.Curve.LOD,
		LOQ:       e.Curve.LOQ,
		N:         e.Curve.N,
		XMean:     e.Curve.XMean,
		Standards: string(standards),
		CreatedAt: e.CreatedAt,
	}
	if r := e.Curve.ValidRange; r != nil {
		lo, hi := r.Min, r.Max
		rec.RangeMin, rec.RangeMax = &lo, &hi
	}
	return rec, nil
}

func (r *CurveRecord) toEntry() (*Entry, error) {
	e := &Entry{
		ID:   r.ID,
		Name: r.Name,
		Curve: Curve{
			Slope:     r.Slope,
			Intercept: r.Intercept,
			R2:        r.R2,
			SEE:       r.SEE,
			SM:        r.SM,
			SB:        r.SB,
			LOD:       r.LOD,
			LOQ:       r.LOQ,
			N:         r.N,
			XMean:     r.XMean,
		},
		CreatedAt: r.CreatedAt,
	}
	if r.RangeMin != nil && r.RangeMax != nil {
		e.Curve.ValidRange = &Range{Min: *r.RangeMin, Max: *r.RangeMax}
	}
	if r.Standards != "" {
		if err := json.Unmarshal([]byte(r.Standards), &e.Standards); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Dialector returns the gorm dialector for a storage type: "sqlite" uses
// path, "mysql" uses dsn.
func Dialector(storageType, path, dsn string) (gorm.Dialector, error) {
	switch storageType {
	case "sqlite", "":
		return sqlite.Open(path), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, errors.Newf("unsupported storage type %q", storageType).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Library persists calibration curves. Reads are served from an in-memory
// cache; writes are serialized.
type Library struct {
	db    *gorm.DB
	cache *cache.Cache
	mu    sync.Mutex
	log   logger.Logger
}

// Open connects to the database, migrates the schema and returns a library
// whose cache entries live for cacheTTL.
func Open(dialector gorm.Dialector, cacheTTL time.Duration) (*Library, error) {
	log := logger.Global().Module(componentName)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Build()
	}

	if err := db.AutoMigrate(&CurveRecord{}); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}

	// No janitor goroutine: expired items are ignored on read and replaced on write.
	return &Library{
		db:    db,
		cache: cache.New(cacheTTL, 0),
		log:   log,
	}, nil
}

// Save stores an entry and returns its id. An empty id is assigned a UUID.
func (l *Library) Save(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Name == "" {
		e.Name = e.ID
	}

	rec, err := toRecord(&e)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileParsing).
			Build()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.WithContext(ctx).Save(rec).Error; err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "save").
			Context("curve_id", e.ID).
			Build()
	}
	l.cache.SetDefault(e.ID, e.clone())

	l.log.Info("calibration curve saved",
		logger.String("curve_id", e.ID),
		logger.String("name", e.Name),
		logger.Float64("r2", e.Curve.R2),
		logger.Int("standards", e.Curve.N))
	return e.ID, nil
}

// Get returns the entry for id.
func (l *Library) Get(ctx context.Context, id string) (*Entry, error) {
	if cached, ok := l.cache.Get(id); ok {
		if e, ok := cached.(Entry); ok {
			e = e.clone()
			return &e, nil
		}
	}

	var rec CurveRecord
	err := l.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(ErrCurveNotFound).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("curve_id", id).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "get").
			Build()
	}

	e, err := rec.toEntry()
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileParsing).
			Context("curve_id", id).
			Build()
	}
	l.cache.SetDefault(id, e.clone())
	return e, nil
}

// List returns all entries, newest first.
func (l *Library) List(ctx context.Context) ([]Entry, error) {
	var recs []CurveRecord
	if err := l.db.WithContext(ctx).Order("created_at desc").Find(&recs).Error; err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "list").
			Build()
	}

	out := make([]Entry, 0, len(recs))
	for i := range recs {
		e, err := recs[i].toEntry()
		if err != nil {
			l.log.Warn("skipping unreadable curve record",
				logger.String("curve_id", recs[i].ID),
				logger.Error(err))
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// Delete removes the entry for id.
func (l *Library) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.db.WithContext(ctx).Delete(&CurveRecord{}, "id = ?", id)
	if res.Error != nil {
		return errors.New(res.Error).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "delete").
			Build()
	}
	l.cache.Delete(id)
	if res.RowsAffected == 0 {
		return errors.New(ErrCurveNotFound).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("curve_id", id).
			Build()
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Library) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
