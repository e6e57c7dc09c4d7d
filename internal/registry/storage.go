package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/model"
)

const metaFileName = "meta.json"

// loadMetadata reads the job's metadata document, merging it over defaults so
// missing fields get sane values. A directory dropped in by hand without
// metadata is treated as active so it runs again after a restart. Malformed
// documents are replaced with defaults and logged, never fatal.
func loadMetadata(name, jobDir string) model.RunMetadata {
	meta := model.DefaultMetadata(time.Now())
	meta.Active = true

	data, err := os.ReadFile(filepath.Join(jobDir, metaFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithFields(log.Fields{"job": name, "error": err}).Warn("Failed reading metadata, using defaults")
		}
		return meta
	}
	if err = json.Unmarshal(data, &meta); err != nil {
		log.WithFields(log.Fields{"job": name, "error": err}).Warn("Malformed metadata, using defaults")
		meta = model.DefaultMetadata(time.Now())
		meta.Active = true
	}
	return meta
}

// saveMetadata writes the metadata document into the job's directory.
func saveMetadata(jobDir string, meta model.RunMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed marshaling metadata: %w", err)
	}
	if err = os.WriteFile(filepath.Join(jobDir, metaFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed writing metadata: %w", err)
	}
	return nil
}
