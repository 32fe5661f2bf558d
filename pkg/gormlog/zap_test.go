package gormlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestShortCaller(t *testing.T) {
	assert.Equal(t, "internal/platform/db/postgres.go:38", shortCaller("/Users/x/repo/internal/platform/db/postgres.go:38"))
	assert.Equal(t, "a/b/c.go:1", shortCaller("/z/a/b/c.go:1"))
	assert.Equal(t, "", shortCaller(""))
}

func TestTraceLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core).Sugar())
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	assert.Equal(t, 0, logs.Len(), "statements are not logged at warn level")

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len(), "record not found is ignored")

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Equal(t, 1, logs.FilterMessage("gorm_trace").Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Equal(t, 1, logs.FilterMessage("gorm_slow").Len())

	l.LogMode(gormlogger.Info).Trace(context.Background(), time.Now(), fc, nil)
	assert.Equal(t, 1, logs.FilterMessage("gorm").Len())
}
