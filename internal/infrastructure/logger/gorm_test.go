package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

var _ gormlogger.Interface = (*GormLogger)(nil)

func TestGormLogger_Options(t *testing.T) {
	gormLog := NewGormLogger(zap.NewNop(), gormlogger.Info,
		WithSlowThreshold(500*time.Millisecond),
		WithIgnoreRecordNotFoundError(false),
	)

	assert.Equal(t, 500*time.Millisecond, gormLog.slowThreshold)
	assert.False(t, gormLog.skipNotFound)

	warnLog, ok := gormLog.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Warn, warnLog.level)
	assert.Equal(t, gormlogger.Info, gormLog.level)

	defaults := NewGormLogger(nil, gormlogger.Warn)
	assert.Equal(t, DefaultSlowQueryThreshold, defaults.slowThreshold)
	assert.True(t, defaults.skipNotFound)
}

func TestGormLogger_Messages(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gormLog := NewGormLogger(zap.New(core), gormlogger.Warn)

	gormLog.Info(context.Background(), "suppressed %s", "info")
	gormLog.Warn(context.Background(), "table %s missing", "storefront_kv")
	gormLog.Error(context.Background(), "boom")

	logs := recorded.All()
	require.Len(t, logs, 2)
	assert.Equal(t, "table storefront_kv missing", logs[0].Message)
	assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs[1].Level)
	assert.Equal(t, "gorm", logs[0].LoggerName)
}

func TestGormLogger_Trace(t *testing.T) {
	const query = "SELECT * FROM storefront_kv WHERE storage_key = ?"

	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		opts      []GormLoggerOption
		elapsed   time.Duration
		err       error
		wantMsg   string
		wantLevel zapcore.Level
	}{
		{
			name:      "error is logged",
			level:     gormlogger.Error,
			err:       errors.New("disk I/O error"),
			wantMsg:   "Storage query failed",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:  "record not found is ignored by default",
			level: gormlogger.Error,
			err:   gormlogger.ErrRecordNotFound,
		},
		{
			name:      "record not found is logged when not ignored",
			level:     gormlogger.Error,
			opts:      []GormLoggerOption{WithIgnoreRecordNotFoundError(false)},
			err:       gormlogger.ErrRecordNotFound,
			wantMsg:   "Storage query failed",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:      "slow query is logged at warn",
			level:     gormlogger.Warn,
			opts:      []GormLoggerOption{WithSlowThreshold(time.Millisecond)},
			elapsed:   time.Second,
			wantMsg:   "Slow storage query",
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "normal query is logged at debug",
			level:     gormlogger.Info,
			wantMsg:   "Storage query",
			wantLevel: zapcore.DebugLevel,
		},
		{
			name:    "slow query below warn level is not reported",
			level:   gormlogger.Error,
			opts:    []GormLoggerOption{WithSlowThreshold(time.Millisecond)},
			elapsed: time.Second,
		},
		{
			name:    "zero threshold disables slow reports",
			level:   gormlogger.Warn,
			opts:    []GormLoggerOption{WithSlowThreshold(0)},
			elapsed: time.Hour,
		},
		{
			name:  "silent logs nothing",
			level: gormlogger.Silent,
			err:   errors.New("ignored"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			gormLog := NewGormLogger(zap.New(core), tt.level, tt.opts...)

			begin := time.Now().Add(-tt.elapsed)
			gormLog.Trace(context.Background(), begin, func() (string, int64) { return query, 1 }, tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, recorded.Len())
				return
			}
			logs := recorded.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.wantMsg, logs[0].Message)
			assert.Equal(t, tt.wantLevel, logs[0].Level)
			assert.Equal(t, query, logs[0].ContextMap()["sql"])
		})
	}
}

func TestGormLogger_CarriesMessagingContext(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gormLog := NewGormLogger(zap.New(core), gormlogger.Info)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithMessengerID(ctx, "products-7")
	ctx = WithPeerOrigin(ctx, "http://localhost:3001")
	gormLog.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	gormLog.Warn(ctx, "table %s recreated", "storefront_kv")

	require.Equal(t, 2, recorded.Len())
	for _, entry := range recorded.All() {
		fields := entry.ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "products-7", fields["messenger_id"])
		assert.Equal(t, "http://localhost:3001", fields["peer_origin"])
	}
	assert.Equal(t, "table storefront_kv recreated", recorded.All()[1].Message)
}

func TestMapGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected gormlogger.LogLevel
	}{
		{"silent", gormlogger.Silent},
		{"error", gormlogger.Error},
		{"WARN", gormlogger.Warn},
		{"info", gormlogger.Info},
		{"debug", gormlogger.Info},
		{"unknown", gormlogger.Warn},
		{"", gormlogger.Warn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapGormLogLevel(tt.level))
		})
	}
}
