// Command nanofit explores partial-occupancy nanoparticle structures: it
// generates (or loads) a catalogue of metal-site occupancy vectors, prunes
// the parent structure for each, refines the result against an experimental
// PDF and ranks the candidates by R-factor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/nanofit/internal/monitoring"
	"github.com/banshee-data/nanofit/internal/version"
)

var (
	structurePath = flag.String("structure", "", "Parent structure XYZ file (metal sites first)")
	dataPath      = flag.String("data", "", "Experimental PDF (.gr) file")
	configPath    = flag.String("config", "", "Fit configuration JSON (defaults apply when empty)")

	cataloguePath     = flag.String("catalogue", "", "Load the candidate catalogue from this JSON file instead of generating one")
	catalogueCount    = flag.Int("count", -1, "Number of candidates to generate (-1 uses the config)")
	catalogueLower    = flag.Int("lower", -1, "Minimum occupied metal sites (-1 uses the config)")
	catalogueUpper    = flag.Int("upper", -1, "Maximum occupied metal sites (-1 uses the config)")
	catalogueSeed     = flag.Uint64("seed", 0, "Catalogue generator seed (random when unset and absent from the config)")
	catalogueUnique   = flag.Bool("unique", false, "Reject duplicate occupancy vectors")
	saveCataloguePath = flag.String("save-catalogue", "", "Write the catalogue to this JSON file")

	index   = flag.Int("index", -1, "Evaluate a single catalogue index (-1 evaluates all)")
	workers = flag.Int("workers", 0, "Concurrent evaluations (0 uses the config, then the CPU count)")

	dbPath           = flag.String("db", "", "Record the run in this sqlite database")
	plotDir          = flag.String("plot-dir", "", "Write one fit PNG per candidate into this directory")
	reportPath       = flag.String("report", "", "Write an HTML report to this path")
	crystalMakerPath = flag.String("crystalmaker", "", "Write a CrystalMaker model coloured by site contribution")
	bestXYZPath      = flag.String("best-xyz", "", "Write the best candidate's retained atoms to this XYZ file")
	debugAddr        = flag.String("debug-addr", "", "Serve debug and tailsql routes on this address (requires -db)")
	verbose          = flag.Bool("debug", false, "Enable debug logging")
	showVersion      = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("nanofit"))
		return
	}
	monitoring.SetDebug(*verbose)

	opts := options{
		StructurePath:     *structurePath,
		DataPath:          *dataPath,
		ConfigPath:        *configPath,
		CataloguePath:     *cataloguePath,
		Count:             *catalogueCount,
		Lower:             *catalogueLower,
		Upper:             *catalogueUpper,
		SaveCataloguePath: *saveCataloguePath,
		Index:             *index,
		Workers:           *workers,
		DBPath:            *dbPath,
		PlotDir:           *plotDir,
		ReportPath:        *reportPath,
		CrystalMakerPath:  *crystalMakerPath,
		BestXYZPath:       *bestXYZPath,
		DebugAddr:         *debugAddr,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			seed := *catalogueSeed
			opts.Seed = &seed
		case "unique":
			unique := *catalogueUnique
			opts.Unique = &unique
		}
	})

	if err := opts.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, opts); err != nil {
		log.Fatalf("nanofit: %v", err)
	}
}
