package viewer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

type AssetSource interface {
	Current() *model.RawAsset
}

type Format struct {
	Ext      string
	MIMEType string
}

var FormatPCD = Format{Ext: "pcd", MIMEType: "text/plain"}

type Artifact struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Save writes the artifact into dir and returns its path.
func (a *Artifact) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, a.Filename)
	if err := os.WriteFile(p, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// Exporter produces a download of the retained bytes, never a re-encoding of
// the scene.
type Exporter struct {
	source AssetSource
	format Format
}

func NewExporter(source AssetSource) *Exporter {
	return &Exporter{source: source, format: FormatPCD}
}

func (e *Exporter) ExportCurrent() (*Artifact, error) {
	raw := e.source.Current()
	if raw == nil {
		return nil, appErr.ErrNoAssetLoaded
	}
	return &Artifact{
		Filename: "export." + e.format.Ext,
		MIMEType: e.format.MIMEType,
		Data:     append([]byte(nil), raw.Data...),
	}, nil
}
