package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// ServerEntry describes one server in a one-shot sync file.
type ServerEntry struct {
	Label          string `koanf:"label"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	AlbumID        string `koanf:"album_id"`
	SizeLimitBytes int64  `koanf:"size_limit_bytes"`
}

// SyncFile is the config-file-driven input for `isync sync`: a standalone
// list of servers synced without the database or the scheduler.
type SyncFile struct {
	Servers []ServerEntry `koanf:"servers"`
}

// LoadSyncFile parses and validates a one-shot sync file (YAML or JSON).
func LoadSyncFile(path string) (SyncFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return SyncFile{}, fmt.Errorf("load sync file %s: %w", path, err)
	}
	var sf SyncFile
	if err := k.Unmarshal("", &sf); err != nil {
		return SyncFile{}, fmt.Errorf("parse sync file %s: %w", path, err)
	}
	if err := sf.validate(); err != nil {
		return SyncFile{}, fmt.Errorf("sync file %s: %w", path, err)
	}
	return sf, nil
}

func (f SyncFile) validate() error {
	if len(f.Servers) < 2 {
		return fmt.Errorf("must define at least two servers to sync")
	}
	seen := make(map[string]struct{}, len(f.Servers))
	for i, s := range f.Servers {
		if s.Label == "" {
			return fmt.Errorf("servers[%d].label cannot be empty", i)
		}
		if _, dup := seen[s.Label]; dup {
			return fmt.Errorf("duplicate server label %q", s.Label)
		}
		seen[s.Label] = struct{}{}
		if s.BaseURL == "" {
			return fmt.Errorf("servers[%d].base_url cannot be empty", i)
		}
		if s.APIKey == "" {
			return fmt.Errorf("servers[%d].api_key cannot be empty", i)
		}
		if s.AlbumID == "" {
			return fmt.Errorf("servers[%d].album_id cannot be empty", i)
		}
		if s.SizeLimitBytes < 0 {
			return fmt.Errorf("servers[%d].size_limit_bytes must not be negative", i)
		}
	}
	return nil
}

// Instances converts the file entries to engine instances with synthetic
// sequential ids, which also fixes the donor tie-break order to file order.
func (f SyncFile) Instances() []models.Instance {
	instances := make([]models.Instance, 0, len(f.Servers))
	for i, s := range f.Servers {
		instances = append(instances, models.Instance{
			ID:             int64(i + 1),
			Label:          s.Label,
			BaseURL:        s.BaseURL,
			APIKey:         s.APIKey,
			AlbumID:        s.AlbumID,
			SizeLimitBytes: s.SizeLimitBytes,
			Active:         true,
		})
	}
	return instances
}
