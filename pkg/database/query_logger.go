package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutbatch-go/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold defines the threshold for slow queries
const SlowQueryThreshold = 100 * time.Millisecond

// QueryLogger routes gorm's logging into logger.Logger. Only failed and
// slow statements are logged above debug level.
type QueryLogger struct {
	logger    logger.Logger
	threshold time.Duration
	level     gormlogger.LogLevel
}

var _ gormlogger.Interface = (*QueryLogger)(nil)

func NewQueryLogger(log logger.Logger, threshold time.Duration) *QueryLogger {
	return &QueryLogger{
		logger:    log.Named("gorm"),
		threshold: threshold,
		level:     gormlogger.Warn,
	}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *QueryLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *QueryLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *QueryLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *QueryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error("query failed", "sql", sql, "rows", rows, "duration", elapsed, "error", err)
	case l.threshold > 0 && elapsed > l.threshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("slow query detected", "sql", sql, "rows", rows, "duration", elapsed, "threshold", l.threshold.String())
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug("query", "sql", sql, "rows", rows, "duration", elapsed)
	}
}
