package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"path/filepath"
	"time"

	"github.com/banshee-data/nanofit/internal/catalogue"
	"github.com/banshee-data/nanofit/internal/config"
	"github.com/banshee-data/nanofit/internal/crystalmaker"
	"github.com/banshee-data/nanofit/internal/db"
	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/evaluate"
	"github.com/banshee-data/nanofit/internal/fit"
	"github.com/banshee-data/nanofit/internal/fsutil"
	"github.com/banshee-data/nanofit/internal/plotting"
	"github.com/banshee-data/nanofit/internal/profile"
	"github.com/banshee-data/nanofit/internal/report"
	"github.com/banshee-data/nanofit/internal/structure"
)

// scorePlotFilename is written into the plot directory after a batch.
const scorePlotFilename = "scores.png"

// showBest is how many ranked candidates are logged.
const showBest = 5

// options is the parsed command line.
type options struct {
	StructurePath string
	DataPath      string
	ConfigPath    string

	CataloguePath     string
	Count             int
	Lower             int
	Upper             int
	Seed              *uint64
	Unique            *bool
	SaveCataloguePath string

	Index   int
	Workers int

	DBPath           string
	PlotDir          string
	ReportPath       string
	CrystalMakerPath string
	BestXYZPath      string
	DebugAddr        string

	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
}

func (o options) validate() error {
	switch {
	case o.StructurePath == "":
		return errors.New("-structure is required")
	case o.DataPath == "":
		return errors.New("-data is required")
	case o.DebugAddr != "" && o.DBPath == "":
		return errors.New("-debug-addr requires -db")
	case o.Index < -1:
		return fmt.Errorf("-index %d must be -1 or a catalogue index", o.Index)
	}
	return nil
}

// summary is what run reports back, mostly for tests.
type summary struct {
	RunID    string
	Seed     *uint64
	Outcomes []*evaluate.Outcome
	Ranked   []*evaluate.Outcome
}

func run(ctx context.Context, o options) (*summary, error) {
	fsys := o.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}

	cfg := config.EmptyFitConfig()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFitConfig(o.ConfigPath); err != nil {
			return nil, err
		}
	}

	parent, err := structure.ReadXYZ(fsys, o.StructurePath, cfg.GetMetalCount())
	if err != nil {
		return nil, err
	}
	prof, err := profile.Load(fsys, o.DataPath)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d metal and %d non-metal sites from %s, %d points from %s",
		len(parent.Metals()), len(parent.NonMetals()), o.StructurePath, prof.Len(), o.DataPath)
	if cfg.QMax == nil {
		if qmax, ok := prof.MetaFloat("qmax"); ok && qmax > cfg.GetQMin() {
			cfg.QMax = &qmax
			log.Printf("using qmax %g from %s", qmax, o.DataPath)
		}
	}

	cat, seed, err := buildCatalogue(fsys, cfg, o, len(parent.Metals()))
	if err != nil {
		return nil, err
	}
	if o.SaveCataloguePath != "" {
		if err := catalogue.Save(fsys, o.SaveCataloguePath, cat); err != nil {
			return nil, err
		}
		log.Printf("saved %d candidates to %s", cat.Len(), o.SaveCataloguePath)
	}

	ev := &evaluate.Evaluator{
		Parent:    parent,
		Profile:   prof,
		Catalogue: cat,
		Fitter: &fit.Orchestrator{
			Engine:   fit.NewDebyeEngine(cfg),
			Settings: fit.SettingsFromConfig(cfg),
		},
		Options: evaluate.Options{
			Threshold: cfg.GetThreshold(),
			Verbose:   o.DBPath != "" || o.ReportPath != "",
			PlotDir:   o.PlotDir,
			FS:        fsys,
		},
	}

	sum := &summary{Seed: seed}
	var sink evaluate.Sink
	var store *db.DB
	if o.DBPath != "" {
		if store, err = db.NewDB(o.DBPath); err != nil {
			return nil, err
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		fr := &db.FitRun{
			StructurePath: o.StructurePath,
			DataPath:      o.DataPath,
			ConfigJSON:    string(cfgJSON),
			Seed:          seed,
		}
		if err := store.CreateRun(fr); err != nil {
			return nil, err
		}
		sum.RunID = fr.RunID
		log.Printf("recording run %s in %s", fr.RunID, store.Path())
		sink = func(out *evaluate.Outcome) error {
			return store.RecordOutcome(fr.RunID, out)
		}

		if o.DebugAddr != "" {
			server, err := serveDebug(o.DebugAddr, store)
			if err != nil {
				return nil, err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					log.Printf("failed to shut down debug server: %v", err)
				}
			}()
		}

		defer func() {
			if err := store.CompleteRun(fr.RunID, time.Now()); err != nil {
				log.Printf("failed to complete run %s: %v", fr.RunID, err)
			}
		}()
	}

	if o.Index >= 0 {
		out, err := ev.Evaluate(ctx, o.Index)
		if err != nil {
			return nil, err
		}
		if sink != nil {
			if err := sink(out); err != nil {
				return nil, err
			}
		}
		sum.Outcomes = []*evaluate.Outcome{out}
	} else {
		workers := o.Workers
		if workers == 0 {
			workers = cfg.GetWorkers()
		}
		outcomes, err := ev.EvaluateAll(ctx, evaluate.AllIndices(cat.Len()), workers, sink)
		if err != nil {
			return nil, err
		}
		sum.Outcomes = outcomes
	}

	sum.Ranked = evaluate.Rank(sum.Outcomes)
	if store != nil {
		if err := logStoredRanking(store, sum.RunID); err != nil {
			return nil, err
		}
	} else {
		logRanking(sum.Ranked, evaluate.Summary(sum.Outcomes))
	}

	if o.BestXYZPath != "" && len(sum.Ranked) > 0 {
		if err := writeBestXYZ(fsys, o.BestXYZPath, parent, sum.Ranked[0], cfg.GetThreshold()); err != nil {
			return nil, err
		}
		log.Printf("wrote candidate %d to %s", sum.Ranked[0].Index, o.BestXYZPath)
	}

	contributions := evaluate.SiteContributions(cat, sum.Outcomes)
	if len(contributions) != parent.MetalCount {
		// Empty catalogues carry no site information.
		contributions = make([]float64, parent.MetalCount)
		for i := range contributions {
			contributions[i] = math.NaN()
		}
	}

	if o.ReportPath != "" {
		r := report.Run{
			Title:         fmt.Sprintf("nanofit: %s", filepath.Base(o.StructurePath)),
			RunID:         sum.RunID,
			Outcomes:      sum.Outcomes,
			Contributions: contributions,
		}
		if err := report.Write(fsys, o.ReportPath, r); err != nil {
			return nil, err
		}
		log.Printf("wrote report to %s", o.ReportPath)
	}

	if o.CrystalMakerPath != "" {
		m := crystalmaker.Model{
			Parent:        parent,
			Contributions: contributions,
			Threshold:     cfg.GetThreshold(),
		}
		if err := crystalmaker.WriteFile(fsys, o.CrystalMakerPath, m); err != nil {
			return nil, err
		}
		log.Printf("wrote CrystalMaker model to %s", o.CrystalMakerPath)
	}

	if o.PlotDir != "" && len(sum.Ranked) > 0 {
		points := make([]plotting.ScorePoint, 0, len(sum.Ranked))
		for _, out := range sum.Ranked {
			points = append(points, plotting.ScorePoint{MetalCount: out.MetalCount, RFactor: out.RFactor})
		}
		p, err := plotting.ScorePlot("R-factor by metal count", points)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(o.PlotDir, scorePlotFilename)
		if err := plotting.WritePNG(fsys, path, p); err != nil {
			return nil, err
		}
	}

	return sum, nil
}

// buildCatalogue loads o.CataloguePath or generates a fresh catalogue. The
// returned seed is nil for loaded catalogues.
func buildCatalogue(fsys fsutil.FileSystem, cfg *config.FitConfig, o options, numSites int) (*catalogue.Catalogue, *uint64, error) {
	if o.CataloguePath != "" {
		cat, err := catalogue.Load(fsys, o.CataloguePath)
		if err != nil {
			return nil, nil, err
		}
		if cat.Len() > 0 && cat.NumSites != numSites {
			return nil, nil, fmt.Errorf("catalogue has %d sites but the structure has %d metals: %w",
				cat.NumSites, numSites, errs.ErrConfiguration)
		}
		log.Printf("loaded %d candidates from %s", cat.Len(), o.CataloguePath)
		return cat, nil, nil
	}

	p := catalogue.Params{
		Count:      cfg.GetCatalogueCount(),
		NumSites:   numSites,
		LowerBound: cfg.GetCatalogueLower(),
		UpperBound: cfg.GetCatalogueUpper(),
		Unique:     cfg.GetCatalogueUnique(),
	}
	if o.Count >= 0 {
		p.Count = o.Count
	}
	if o.Lower >= 0 {
		p.LowerBound = o.Lower
	}
	if o.Upper >= 0 {
		p.UpperBound = o.Upper
	}
	if o.Unique != nil {
		p.Unique = *o.Unique
	}

	seed, ok := cfg.GetCatalogueSeed()
	if o.Seed != nil {
		seed, ok = *o.Seed, true
	}
	if !ok {
		seed = rand.Uint64()
	}

	cat, err := catalogue.Generate(catalogue.NewRand(seed), p)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("generated %d candidates over %d sites (occupied %d..%d, seed %d)",
		cat.Len(), numSites, p.LowerBound, p.UpperBound, seed)
	return cat, &seed, nil
}

func serveDebug(addr string, store *db.DB) (*http.Server, error) {
	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server stopped: %v", err)
		}
	}()
	log.Printf("debug routes on http://%s/debug/", addr)
	return server, nil
}

func logRanking(ranked []*evaluate.Outcome, counts map[string]int) {
	log.Printf("outcomes by status: %v", counts)
	for i, out := range ranked {
		if i == showBest {
			break
		}
		log.Printf("#%d candidate %d: R=%.5f metals=%d non-metals=%d", i+1, out.Index, out.RFactor, out.MetalCount, out.NonMetalCount)
	}
}

// logStoredRanking reports the tally and leaders of runID as persisted.
func logStoredRanking(store *db.DB, runID string) error {
	counts, err := store.StatusCounts(runID)
	if err != nil {
		return err
	}
	best, err := store.BestCandidates(runID, showBest)
	if err != nil {
		return err
	}
	log.Printf("run %s outcomes by status: %v", runID, counts)
	for i, cf := range best {
		log.Printf("#%d candidate %d: R=%.5f metals=%d non-metals=%d", i+1, cf.CandidateIndex, *cf.RFactor, cf.MetalCount, cf.NonMetalCount)
	}
	return nil
}

// writeBestXYZ prunes the parent to out's occupancy and writes the retained
// atoms, metals first.
func writeBestXYZ(fsys fsutil.FileSystem, path string, parent *structure.Parent, out *evaluate.Outcome, threshold float64) error {
	cand, err := structure.Prune(parent, out.Vector, threshold)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	atoms := append(append([]structure.Atom{}, cand.Metals...), cand.NonMetals...)
	comment := fmt.Sprintf("candidate %d R=%.5f metals=%d", out.Index, out.RFactor, len(cand.Metals))
	if err := structure.WriteXYZ(f, comment, atoms); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
