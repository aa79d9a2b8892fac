package scheduler

import (
	"fmt"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/database"
)

// MaintenanceJob performs daily database maintenance: integrity checks,
// WAL checkpoints to prevent bloat, and a disk space check.
type MaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceJob creates the job over the given databases.
func NewMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass.
func (j *MaintenanceJob) Run() error {
	for name, db := range j.databases {
		if err := j.integrityCheck(db); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	j.checkDiskSpace()
	j.log.Info().Int("databases", len(j.databases)).Msg("Maintenance completed")
	return nil
}

func (j *MaintenanceJob) integrityCheck(db *database.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check reported: %s", result)
	}
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		j.log.Warn().Err(err).Msg("Failed to stat filesystem")
		return
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	switch {
	case availableGB < 0.5:
		j.log.Error().Float64("available_gb", availableGB).Msg("Critically low disk space")
	case availableGB < 5.0:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")
	}
}
