package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsmap/internal/db"
	"github.com/banshee-data/tsmap/internal/fsutil"
	"github.com/banshee-data/tsmap/internal/mapio"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/tsmap"
)

func simulateSmall(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sim.fits")
	var out bytes.Buffer
	err := dispatch("simulate", []string{
		"-out", path, "-name", "sim", "-nx", "31", "-ny", "31", "-binsz", "0.05",
		"-nbin", "2", "-flux", "3e-9", "-asimov",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2 energy bin(s)")
	return path
}

func TestDispatch_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, dispatch("version", nil, &out))
	assert.True(t, strings.HasPrefix(out.String(), "tsmap "))

	out.Reset()
	require.NoError(t, dispatch("help", nil, &out))
	assert.Contains(t, out.String(), "Usage: tsmap <command>")

	assert.Error(t, dispatch("bogus", nil, &out))
}

func TestRunAndCatalogue(t *testing.T) {
	dir := t.TempDir()
	dataset := simulateSmall(t, dir)
	dbPath := filepath.Join(dir, "tsmap.db")
	outPath := filepath.Join(dir, "maps.fits")
	plots := filepath.Join(dir, "plots")

	var out bytes.Buffer
	err := dispatch("run", []string{
		"-dataset", dataset, "-out", outPath, "-db", dbPath, "-plots", plots, "-jobs", "2",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "sim: 2 energy group(s)")

	fm, err := mapio.LoadFluxMaps(fsutil.OSFileSystem{}, outPath)
	require.NoError(t, err)
	ts, ok := fm.Image(tsmap.QuantityTS, 0)
	require.True(t, ok)
	_, x, y, ok := ts.MaxFinite()
	require.True(t, ok)
	assert.Equal(t, [2]int{15, 15}, [2]int{x, y})
	assert.True(t, fsutil.OSFileSystem{}.Exists(filepath.Join(plots, "sim.html")))

	catalogue, err := db.NewDB(dbPath)
	require.NoError(t, err)
	runs, err := catalogue.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	catalogue.Close()
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, db.StatusComplete, r.Status)
	assert.Equal(t, 2, r.EnergyGroups)
	assert.Greater(t, r.MaxTS, 25.0)
	assert.Contains(t, r.Model, models.TypePoint)

	out.Reset()
	require.NoError(t, dispatch("runs", []string{"-db", dbPath}, &out))
	assert.Contains(t, out.String(), r.ID)
	assert.Contains(t, out.String(), db.StatusComplete)

	out.Reset()
	require.NoError(t, dispatch("peaks", []string{"-db", dbPath, "-run", r.ID}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3, "header plus a peak per slice")
	slices := map[string]bool{}
	for _, line := range lines[1:] {
		slices[strings.Fields(line)[0]] = true
	}
	assert.Equal(t, map[string]bool{"0": true, "1": true}, slices)
	assert.Equal(t, []string{"0", "0", "15", "15"}, strings.Fields(lines[1])[:4])

	assert.Error(t, dispatch("peaks", []string{"-db", dbPath, "-run", "missing"}, &out))

	out.Reset()
	require.NoError(t, dispatch("migrate", []string{"-db", dbPath, "status"}, &out))
	assert.Contains(t, out.String(), "up to date")
}

func writeModels(t *testing.T, path string, backgrounds ...models.BackgroundModel) {
	t.Helper()
	var buf bytes.Buffer
	doc := models.ModelsToDocument([]models.SkyModel{models.DefaultSkyModel()}, backgrounds, models.SelectionAll)
	require.NoError(t, doc.Write(&buf))
	require.NoError(t, fsutil.OSFileSystem{}.WriteFile(path, buf.Bytes(), 0o644))
}

func TestRun_BackgroundModels(t *testing.T) {
	dir := t.TempDir()
	dataset := simulateSmall(t, dir)

	peakTS := func(t *testing.T, backgrounds ...models.BackgroundModel) float64 {
		t.Helper()
		modelsPath := filepath.Join(t.TempDir(), "models.json")
		writeModels(t, modelsPath, backgrounds...)
		outPath := filepath.Join(t.TempDir(), "maps.fits")
		var out bytes.Buffer
		require.NoError(t, dispatch("run", []string{"-dataset", dataset, "-models", modelsPath, "-out", outPath}, &out))
		fm, err := mapio.LoadFluxMaps(fsutil.OSFileSystem{}, outPath)
		require.NoError(t, err)
		ts, _ := fm.Image(tsmap.QuantityTS, 0)
		v, x, y, ok := ts.MaxFinite()
		require.True(t, ok)
		assert.Equal(t, [2]int{15, 15}, [2]int{x, y})
		return v
	}

	nominal := peakTS(t)
	unit := peakTS(t, models.BackgroundModel{Name: "bkg", ID: models.BackgroundGlobal, Norm: 1, Reference: 1})
	assert.InDelta(t, nominal, unit, 1e-9*nominal)

	halved := peakTS(t, models.BackgroundModel{Name: "bkg", ID: models.BackgroundGlobal, Norm: 0.5, Reference: 1})
	assert.Greater(t, halved, nominal, "a lower background raises the significance")

	other := peakTS(t, models.BackgroundModel{Name: "bkg", ID: "other-dataset", Norm: 0.5, Reference: 1})
	assert.InDelta(t, nominal, other, 1e-9*nominal, "backgrounds of other datasets are ignored")

	own := peakTS(t, models.BackgroundModel{Name: "bkg", ID: "sim", Norm: 0.5, Reference: 1})
	assert.InDelta(t, halved, own, 1e-9*halved)

	modelsPath := filepath.Join(dir, "negative.json")
	writeModels(t, modelsPath, models.BackgroundModel{Name: "bkg", ID: models.BackgroundGlobal, Norm: -1, Reference: 1})
	var out bytes.Buffer
	err := dispatch("run", []string{"-dataset", dataset, "-models", modelsPath, "-out", filepath.Join(dir, "neg.fits")}, &out)
	assert.ErrorContains(t, err, "norm must be positive")
}

func TestRun_FailedRunIsRecorded(t *testing.T) {
	dir := t.TempDir()
	dataset := simulateSmall(t, dir)
	dbPath := filepath.Join(dir, "tsmap.db")
	cfg := filepath.Join(dir, "wide.json")
	require.NoError(t, fsutil.OSFileSystem{}.WriteFile(cfg, []byte(`{"kernel_width": "5 deg"}`), 0o644))

	var out bytes.Buffer
	err := dispatch("run", []string{
		"-dataset", dataset, "-out", filepath.Join(dir, "maps.fits"), "-db", dbPath, "-config", cfg,
	}, &out)
	require.ErrorIs(t, err, tsmap.ErrKernelTooLarge)

	catalogue, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer catalogue.Close()
	runs, err := catalogue.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "kernel")
}

func TestRun_RequiredFlags(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, dispatch("run", []string{"-out", "x.fits"}, &out))
	assert.Error(t, dispatch("simulate", nil, &out))
	assert.Error(t, dispatch("peaks", []string{"-db", filepath.Join(t.TempDir(), "x.db")}, &out))
	assert.Error(t, dispatch("migrate", []string{"-db", filepath.Join(t.TempDir(), "x.db"), "sideways"}, &out))
}

func TestServe(t *testing.T) {
	catalogue, err := db.NewDB(filepath.Join(t.TempDir(), "tsmap.db"))
	require.NoError(t, err)
	defer catalogue.Close()

	handler, err := newHandler(catalogue, "")
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, serve(ctx, &http.Server{Addr: "127.0.0.1:0", Handler: handler}))
}
