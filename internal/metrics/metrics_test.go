package metrics_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/metrics"
	"codeberg.org/mutker/iswctl/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) metrics.Config {
	t.Helper()
	return metrics.Config{
		DBPath:    filepath.Join(t.TempDir(), "db", "history.db"),
		BatchSize: 2,
		Enabled:   true,
	}
}

func sampleAt(ts time.Time, temp int) monitor.Sample {
	return monitor.Sample{
		Time:  ts,
		Board: "MS-16V1",
		CPU:   monitor.Reading{Temp: temp, Duty: 40, RPM: 2400},
		GPU:   monitor.Reading{Temp: temp - 5, Duty: 30, RPM: 1900},
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, metrics.DefaultConfig().Validate())

	err := metrics.Config{Enabled: true}.Validate()
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidDBPath))

	err = metrics.Config{BatchSize: -1}.Validate()
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidConfig))
}

func TestDisabledServiceIsNoop(t *testing.T) {
	svc, err := metrics.NewService(metrics.DefaultConfig(), logger.Nop())
	require.NoError(t, err)

	require.NoError(t, svc.Record(context.Background(), sampleAt(time.Now(), 50)))
	samples, err := svc.Query(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.NoError(t, svc.Close())
}

func TestRecordAndQuery(t *testing.T) {
	cfg := testConfig(t)
	svc, err := metrics.NewService(cfg, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	base := time.UnixMilli(time.Now().UnixMilli())
	for i := range 3 {
		require.NoError(t, svc.Record(ctx, sampleAt(base.Add(time.Duration(i)*time.Second), 50+i)))
	}

	// The third sample is still buffered; Query flushes it.
	samples, err := svc.Query(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 51, samples[0].CPU.Temp)
	assert.Equal(t, 52, samples[1].CPU.Temp)
	assert.Equal(t, "MS-16V1", samples[1].Board)
	assert.Equal(t, 1900, samples[1].GPU.RPM)
	assert.True(t, base.Add(2*time.Second).Equal(samples[1].Time))

	require.NoError(t, svc.Close())
	assert.NoError(t, svc.Close(), "Close must be idempotent")
}

func TestCloseFlushesBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	cfg.BatchTimeout = time.Hour

	repo, err := metrics.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Record(sampleAt(time.Now(), 60)))
	require.NoError(t, repo.Close())

	err = repo.Record(sampleAt(time.Now(), 61))
	assert.True(t, errors.HasCode(err, metrics.ErrClosed))

	reopened, err := metrics.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	samples, err := reopened.Query(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 60, samples[0].CPU.Temp)
}

func TestRecordCancelledContext(t *testing.T) {
	svc, err := metrics.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = svc.Record(ctx, sampleAt(time.Now(), 50))
	assert.True(t, errors.HasCode(err, metrics.ErrOperationTimeout))
}

func TestSchemaMigrationBacksUpOldVersion(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := metrics.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir, "history_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db, err = sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := metrics.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion, version)

	exists, err := metrics.TableExists(db, "samples")
	require.NoError(t, err)
	assert.True(t, exists)
}
