package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerAdapter routes GORM output through a module Logger. Statements
// are logged at TRACE, so they only appear when the owning module runs at
// trace level; slow statements and failures are logged at WARN.
//
//	db, err := gorm.Open(dialector, &gorm.Config{
//	    Logger: logger.NewGormLoggerAdapter(logger.Global().Module("calibration"), 200*time.Millisecond),
//	})
type GormLoggerAdapter struct {
	log           Logger
	slowThreshold time.Duration
}

// NewGormLoggerAdapter returns an adapter logging to log. A zero
// slowThreshold disables slow statement warnings.
func NewGormLoggerAdapter(log Logger, slowThreshold time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLoggerAdapter{log: log, slowThreshold: slowThreshold}
}

// LogMode implements gormlogger.Interface. Levels come from the central
// logger configuration, so the requested level is ignored.
func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return a
}

// Info implements gormlogger.Interface. GORM info output is chatty and maps
// to DEBUG.
func (a *GormLoggerAdapter) Info(ctx context.Context, msg string, data ...any) {
	a.log.WithContext(ctx).Debug(fmt.Sprintf(msg, data...))
}

// Warn implements gormlogger.Interface.
func (a *GormLoggerAdapter) Warn(ctx context.Context, msg string, data ...any) {
	a.log.WithContext(ctx).Warn(fmt.Sprintf(msg, data...))
}

// Error implements gormlogger.Interface.
func (a *GormLoggerAdapter) Error(ctx context.Context, msg string, data ...any) {
	a.log.WithContext(ctx).Error(fmt.Sprintf(msg, data...))
}

// Trace implements gormlogger.Interface. A missing record is not a failure.
func (a *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	statement, rows := fc()
	fields := []Field{
		String("sql", statement),
		Int64("rows_affected", rows),
		Duration("elapsed", elapsed),
	}
	log := a.log.WithContext(ctx)

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("statement failed", append(fields, Error(err))...)
		return
	}
	if a.slowThreshold > 0 && elapsed > a.slowThreshold {
		log.Warn("slow statement", append(fields, Duration("threshold", a.slowThreshold))...)
		return
	}
	log.Trace("statement", fields...)
}
