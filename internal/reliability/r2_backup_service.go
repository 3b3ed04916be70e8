package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/rs/zerolog"
)

const (
	archivePrefix     = "fundfolio-backup-"
	archiveSuffix     = ".tar.gz"
	archiveTimeLayout = "2006-01-02-150405"
	metadataFilename  = "backup-metadata.json"
	minBackupsToKeep  = 3
)

// ObjectStore is the bucket the backup service writes to.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// R2BackupService manages cloud backups of the sqlite databases
type R2BackupService struct {
	store     ObjectStore
	databases map[string]*database.DB
	dataDir   string
	now       func() time.Time
	log       zerolog.Logger
}

// BackupMetadata contains metadata about a backup
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata contains metadata about a single database in the backup
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo represents information about a stored backup
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewR2BackupService creates a new backup service over the named databases.
// Archives are staged under dataDir.
func NewR2BackupService(store ObjectStore, databases map[string]*database.DB, dataDir string, log zerolog.Logger) *R2BackupService {
	return &R2BackupService{
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		now:       time.Now,
		log:       log.With().Str("service", "r2_backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots every database with VACUUM INTO, packs the
// snapshots with a checksum manifest into a tar.gz and uploads it. It
// returns the archive name.
func (s *R2BackupService) CreateAndUploadBackup(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	timestamp := s.now().UTC()
	metadata := BackupMetadata{
		Timestamp: timestamp,
		Version:   "1",
		Databases: make([]DatabaseMetadata, 0, len(names)),
	}
	files := make([]string, 0, len(names)+1)

	for _, name := range names {
		filename := name + ".db"
		path := filepath.Join(stagingDir, filename)
		if err := s.databases[name].BackupTo(ctx, path); err != nil {
			return "", fmt.Errorf("failed to backup %s: %w", name, err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s backup: %w", name, err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return "", fmt.Errorf("failed to calculate checksum for %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFilename), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFilename)

	archiveName := archivePrefix + timestamp.Format(archiveTimeLayout) + archiveSuffix
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	info, err := archiveFile.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}
	if err := s.store.Upload(ctx, archiveName, archiveFile, info.Size()); err != nil {
		return "", err
	}

	s.log.Info().
		Dur("duration", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", info.Size()).
		Msg("Backup completed")
	return archiveName, nil
}

// ListBackups lists stored backups, newest first
func (s *R2BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), archiveSuffix)
		timestamp, err := time.Parse(archiveTimeLayout, stamp)
		if err != nil {
			s.log.Warn().Str("filename", obj.Key).Msg("Failed to parse timestamp from filename")
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than retentionDays, always keeping
// the newest three. Zero retention keeps everything.
func (s *R2BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return deleted, nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, filenames []string) (err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)
	for _, name := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func addFileToArchive(tarWriter *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
