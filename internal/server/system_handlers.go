package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/modules/prices"
	"github.com/aristath/fundfolio/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PriceCache is the part of the price cache the server reads.
type PriceCache interface {
	List(ctx context.Context) ([]prices.Summary, error)
	Count(ctx context.Context) (int, error)
}

// UserCounter counts registered bot users.
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// RefreshTrigger starts price refreshes and reports their state.
type RefreshTrigger interface {
	RefreshAsync() error
	Status() scheduler.RefreshStatus
}

// DialogueCounter reports the number of dialogues in progress.
type DialogueCounter interface {
	ActiveDialogues() int
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	CPUPercent      float64                 `json:"cpu_percent"`
	MemoryPercent   float64                 `json:"memory_percent"`
	DataDirMB       float64                 `json:"data_dir_mb"`
	CachedSeries    int                     `json:"cached_series"`
	Users           int                     `json:"users"`
	ActiveDialogues *int                    `json:"active_dialogues,omitempty"`
	Refresh         scheduler.RefreshStatus `json:"refresh"`
	Timestamp       string                  `json:"timestamp"`
}

// DBInfo describes one database file
type DBInfo struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
}

// DatabaseStatsResponse is the body of GET /api/system/databases
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
}

// SystemHandlers handles system monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	cache       PriceCache
	users       UserCounter
	refresh     RefreshTrigger
	bot         DialogueCounter
	sysStats    func() (float64, float64)
}

// NewSystemHandlers creates the system handlers. bot may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	cache PriceCache,
	users UserCounter,
	refresh RefreshTrigger,
	bot DialogueCounter,
) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		cache:       cache,
		users:       users,
		refresh:     refresh,
		bot:         bot,
	}
	h.sysStats = h.getSystemStats
	return h
}

// HandleSystemStatus returns process, cache and job state.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cpuPercent, memPercent := h.sysStats()

	response := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DataDirMB:     h.getDirSize(h.dataDir),
		Refresh:       h.refresh.Status(),
		Timestamp:     time.Now().Format(time.RFC3339),
	}

	cached, err := h.cache.Count(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count cached series")
		response.Status = "degraded"
	}
	response.CachedSeries = cached

	users, err := h.users.Count(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count users")
		response.Status = "degraded"
	}
	response.Users = users

	if h.bot != nil {
		active := h.bot.ActiveDialogues()
		response.ActiveDialogues = &active
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats returns file sizes and page counters of every database.
// GET /api/system/databases
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	response := DatabaseStatsResponse{Databases: make([]DBInfo, 0, len(names))}
	for _, name := range names {
		db := h.databases[name]
		stats, err := db.GetStats(r.Context())
		if err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Failed to get database stats")
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get database stats"})
			return
		}
		info := DBInfo{
			Name:          name,
			Path:          db.Path(),
			SizeMB:        toMB(stats.SizeBytes),
			WALSizeMB:     toMB(stats.WALSizeBytes),
			PageCount:     stats.PageCount,
			FreelistCount: stats.FreelistCount,
		}
		response.TotalSizeMB += info.SizeMB + info.WALSizeMB
		response.Databases = append(response.Databases, info)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleTriggerRefresh starts a price refresh in the background.
// POST /api/prices/refresh
func (h *SystemHandlers) HandleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.refresh.RefreshAsync(); err != nil {
		if errors.Is(err, scheduler.ErrRefreshInProgress) {
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": "Price refresh already running"})
			return
		}
		h.log.Error().Err(err).Msg("Failed to start price refresh")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.log.Info().Msg("Price refresh triggered manually")
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Price refresh started",
	})
}

// HandleRefreshStatus returns the state of the refresh job.
// GET /api/prices/refresh
func (h *SystemHandlers) HandleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.refresh.Status())
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return toMB(totalSize)
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over
// 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func toMB(bytes int64) float64 {
	return float64(bytes) / 1024 / 1024
}
