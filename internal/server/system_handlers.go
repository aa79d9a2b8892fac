package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dfpersonal/cash-management/internal/database"
)

// SystemHandlers serves operational status endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	portfolioDB *database.DB
	configDB    *database.DB
	cacheDB     *database.DB
	startedAt   time.Time
}

// NewSystemHandlers creates the system status handlers.
func NewSystemHandlers(log zerolog.Logger, dataDir string, portfolioDB, configDB, cacheDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		portfolioDB: portfolioDB,
		configDB:    configDB,
		cacheDB:     cacheDB,
		startedAt:   time.Now(),
	}
}

// HandleSystemStatus returns process and host resource usage.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	status["heap_alloc_mb"] = memStats.HeapAlloc / 1024 / 1024

	h.respond(w, http.StatusOK, status)
}

// DBInfo describes one database file on disk.
type DBInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Exists    bool   `json:"exists"`
}

// HandleDatabaseStats reports the size of each database file.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	files := []string{"portfolio.db", "config.db", "cache.db"}

	var infos []DBInfo
	var total int64
	for _, name := range files {
		path := filepath.Join(h.dataDir, name)
		info := DBInfo{Name: name, Path: path}
		if stat, err := os.Stat(path); err == nil {
			info.Exists = true
			info.SizeBytes = stat.Size()
			total += stat.Size()
		}
		infos = append(infos, info)
	}

	h.respond(w, http.StatusOK, map[string]interface{}{
		"databases":        infos,
		"total_size_bytes": total,
	})
}

// HandleDiskUsage reports the total size of the data directory.
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	size, err := dirSize(h.dataDir)
	if err != nil {
		h.log.Error().Err(err).Str("dir", h.dataDir).Msg("Failed to measure data directory")
		h.respond(w, http.StatusInternalServerError, map[string]string{"error": "failed to measure data directory"})
		return
	}

	h.respond(w, http.StatusOK, map[string]interface{}{
		"data_dir":   h.dataDir,
		"size_bytes": size,
		"size_mb":    float64(size) / 1024 / 1024,
	})
}

func (h *SystemHandlers) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
