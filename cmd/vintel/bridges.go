package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/Subtalime/vintel-sub001/internal/cache"
	"github.com/Subtalime/vintel-sub001/internal/logging"
	"github.com/Subtalime/vintel-sub001/internal/topology"
)

// runBridges imports a jump bridge list into the configured cache, or
// prints the cached list in compact form.
func runBridges(args []string) error {
	if len(args) == 0 {
		return errors.New("bridges: want import or export")
	}
	action := args[0]
	fs := pflag.NewFlagSet("bridges "+action, pflag.ContinueOnError)
	configPath, envFiles := addConfigFlags(fs)
	file := fs.StringP("file", "f", "", "bridge list to import (- for stdin)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	mgr, err := loadConfig(*configPath, *envFiles)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel)
	ctx := context.Background()

	store, err := cache.Open(ctx, cache.OptionsFromConfig(cfg.Cache, logger))
	if err != nil {
		return err
	}
	defer store.Close()

	switch action {
	case "import":
		if *file == "" {
			return errors.New("bridges import: --file required")
		}
		im := topology.Importer{Logger: logger}
		var res topology.Result
		if *file == "-" {
			res, err = im.Import(os.Stdin)
		} else {
			res, err = im.ImportFile(*file)
		}
		if err != nil {
			return err
		}
		if res.Format == topology.FormatNone {
			return fmt.Errorf("no bridges recognised in %s (%d lines skipped)", *file, res.Skipped)
		}
		if err := topology.Save(ctx, store, res.Edges, cfg.Topology.CacheTTL, time.Now()); err != nil {
			return err
		}
		fmt.Printf("imported %d bridges (%s form, %d skipped)\n", len(res.Edges), res.Format, res.Skipped)
		return nil
	case "export":
		edges, importedAt, ok := topology.Load(ctx, store)
		if !ok {
			return errors.New("no bridges cached")
		}
		fmt.Fprintf(os.Stderr, "# %d bridges imported %s\n", len(edges), importedAt.Format(time.RFC3339))
		fmt.Print(topology.Export(edges))
		return nil
	default:
		return fmt.Errorf("bridges: unknown action %q", action)
	}
}
