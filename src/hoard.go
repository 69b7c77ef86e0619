package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/hoard/src/cas"
	"github.com/thought-machine/hoard/src/cli"
	"github.com/thought-machine/hoard/src/core"
	"github.com/thought-machine/hoard/src/memo"
	"github.com/thought-machine/hoard/src/metrics"
)

var log = logging.MustGetLogger("hoard")

var opts struct {
	Usage     string        `usage:"hoard is a two-phase incremental build cache engine.\n\nThis binary provides maintenance operations over its stores; the engine itself is consumed as a library by a build scheduler."`
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Verbosity of output (higher number = more output)"`
	LogFile   string        `long:"log_file" description:"File to log to (in addition to stderr)"`
	Config    []string      `short:"c" long:"config" description:"Extra config file to read, after the usual ones"`

	Clean struct {
		HighWaterMark cli.ByteSize `short:"i" long:"high_water_mark" description:"Only clean if the store exceeds this size; defaults to the configured value"`
		LowWaterMark  cli.ByteSize `short:"l" long:"low_water_mark" description:"Size to clean the store down to; defaults to the configured value"`
	} `command:"clean" description:"Cleans the local blob store down to its configured size"`

	GC struct {
		DryRun bool `short:"n" long:"dry_run" description:"Only report what would be removed"`
	} `command:"gc" description:"Removes memoization entries whose content has been evicted"`

	Stats struct {
	} `command:"stats" description:"Prints counts of recorded cache entries"`
}

func main() {
	command := cli.ParseFlagsOrDie("hoard", &opts)
	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.LogFile, opts.Verbosity)
	}
	config, err := core.ReadConfigFiles(append([]string{
		core.MachineConfigFileName,
		core.ConfigFileName,
		core.LocalConfigFileName,
	}, opts.Config...))
	if err != nil {
		log.Fatalf("Error reading config: %s", err)
	}
	metrics.InitFromConfig(config)
	defer metrics.Shutdown()
	if !runCommand(command, config) {
		os.Exit(1)
	}
}

func runCommand(command string, config *core.Configuration) bool {
	ctx := context.Background()
	switch command {
	case "clean":
		return runClean(config)
	case "gc":
		return runGC(ctx, config)
	case "stats":
		return runStats(ctx, config)
	}
	log.Fatalf("Unknown command %s", command)
	return false
}

func runClean(config *core.Configuration) bool {
	store, err := cas.NewDirStore(config)
	if err != nil {
		log.Error("Failed to open blob store: %s", err)
		return false
	}
	high := uint64(config.Cache.DirCacheHighWaterMark)
	low := uint64(config.Cache.DirCacheLowWaterMark)
	if opts.Clean.HighWaterMark > 0 {
		high = uint64(opts.Clean.HighWaterMark)
	}
	if opts.Clean.LowWaterMark > 0 {
		low = uint64(opts.Clean.LowWaterMark)
	}
	size := store.Clean(high, low)
	fmt.Printf("Blob store size after cleaning: %s\n", humanize.Bytes(size))
	return true
}

func runGC(ctx context.Context, config *core.Configuration) bool {
	// Cancellation stops the enumeration goroutine if we bail out early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	memoStore, casStore, ok := openStores(config)
	if !ok {
		return false
	}
	defer memoStore.Shutdown()
	defer casStore.Shutdown()
	removed, kept := 0, 0
	for strong := range memoStore.EnumerateStrongFingerprints(ctx) {
		list, present, err := memoStore.Get(ctx, strong)
		if err != nil || !present {
			continue
		}
		pinned, err := casStore.PinAll(ctx, list.Hashes)
		if err != nil {
			log.Error("Failed to verify content for %s: %s", strong, err)
			return false
		}
		usable := true
		for _, p := range pinned {
			usable = usable && p
		}
		if usable {
			kept++
			continue
		}
		if opts.GC.DryRun {
			fmt.Printf("Would remove %s\n", strong)
		} else if err := memoStore.Delete(ctx, strong); err != nil {
			log.Error("Failed to remove entry %s: %s", strong, err)
			return false
		}
		removed++
	}
	fmt.Printf("Kept %d entries, removed %d with evicted content\n", kept, removed)
	return true
}

func runStats(ctx context.Context, config *core.Configuration) bool {
	memoStore, casStore, ok := openStores(config)
	if !ok {
		return false
	}
	defer memoStore.Shutdown()
	defer casStore.Shutdown()
	entries := 0
	for range memoStore.EnumerateStrongFingerprints(ctx) {
		entries++
	}
	fmt.Printf("Recorded cache entries: %d\n", entries)
	return true
}

func openStores(config *core.Configuration) (memo.Store, cas.Store, bool) {
	memoStore, err := memo.NewStore(config)
	if err != nil {
		log.Error("Failed to open memoization store: %s", err)
		return nil, nil, false
	}
	casStore, err := cas.NewStore(config)
	if err != nil {
		log.Error("Failed to open blob store: %s", err)
		memoStore.Shutdown()
		return nil, nil, false
	}
	return memoStore, casStore, true
}
