// Package report renders estimator output for inspection: PNG heatmaps,
// an interactive HTML page and per-slice statistics.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/tsmap/internal/fsutil"
	"github.com/banshee-data/tsmap/internal/monitoring"
	"github.com/banshee-data/tsmap/internal/security"
	"github.com/banshee-data/tsmap/internal/tsmap"
)

// DefaultQuantities are plotted when a Writer has none configured.
var DefaultQuantities = []string{tsmap.QuantitySqrtTS, tsmap.QuantityFlux}

// Writer writes reports below Dir.
type Writer struct {
	FS         fsutil.FileSystem
	Dir        string
	Quantities []string
}

// NewWriter returns a writer for dir on fsys.
func NewWriter(fsys fsutil.FileSystem, dir string) *Writer {
	return &Writer{FS: fsys, Dir: dir, Quantities: DefaultQuantities}
}

// Report lists what Write produced.
type Report struct {
	Files     []string  `json:"files"`
	Summaries []Summary `json:"summaries"`
	Peaks     []Peak    `json:"peaks,omitempty"`
}

// Peak is a TS map peak as written to the summary file.
type Peak struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	TS     float64 `json:"ts"`
	SqrtTS float64 `json:"sqrt_ts"`
}

func (w *Writer) path(name string, parts ...string) string {
	base := security.SanitizeFilename(name)
	for _, p := range parts {
		base += "_" + security.SanitizeFilename(p)
	}
	return filepath.Join(w.Dir, base)
}

func (w *Writer) write(path string, data []byte) error {
	if err := w.FS.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Write renders fm for the run called name. Peaks are drawn on every
// plot and listed in the summary. Slices without finite pixels are
// summarised but not plotted.
func (w *Writer) Write(name string, fm *tsmap.FluxMaps, peaks []tsmap.Peak) (*Report, error) {
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, err
	}
	quantities := w.Quantities
	if len(quantities) == 0 {
		quantities = DefaultQuantities
	}
	rep := &Report{}

	for _, q := range fm.Names() {
		c, _ := fm.Get(q)
		for i := 0; i < c.NBin(); i++ {
			s, err := Summarize(q, i, c.Slice(i))
			if err != nil {
				return nil, fmt.Errorf("summarising %s slice %d: %w", q, i, err)
			}
			rep.Summaries = append(rep.Summaries, s)
		}
	}

	for _, q := range quantities {
		c, ok := fm.Get(q)
		if !ok {
			continue
		}
		for i := 0; i < c.NBin(); i++ {
			img := c.Slice(i)
			if _, _, _, ok := img.MaxFinite(); !ok {
				monitoring.Debugf("report: %s slice %d has no finite pixels", q, i)
				continue
			}
			var buf bytes.Buffer
			if err := WritePNG(&buf, fmt.Sprintf("%s %s [%d]", name, q, i), img, peaks); err != nil {
				return nil, err
			}
			path := w.path(name, q, fmt.Sprint(i)) + ".png"
			if err := w.write(path, buf.Bytes()); err != nil {
				return nil, err
			}
			rep.Files = append(rep.Files, path)
		}
	}

	var html bytes.Buffer
	if err := WriteHTML(&html, name, fm, quantities); err != nil {
		return nil, err
	}
	htmlPath := w.path(name) + ".html"
	if err := w.write(htmlPath, html.Bytes()); err != nil {
		return nil, err
	}
	rep.Files = append(rep.Files, htmlPath)

	for _, p := range peaks {
		rep.Peaks = append(rep.Peaks, Peak{X: p.X, Y: p.Y, Lon: p.Lon, Lat: p.Lat, TS: p.Value, SqrtTS: sqrtOrZero(p.Value)})
	}
	summaryPath := w.path(name, "summary") + ".json"
	rep.Files = append(rep.Files, summaryPath)
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := w.write(summaryPath, data); err != nil {
		return nil, err
	}
	monitoring.Logf("report: wrote %d files to %s", len(rep.Files), w.Dir)
	return rep, nil
}
