// Utilities for reading the hoard config files.

package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/please-build/gcfg"

	"github.com/thought-machine/hoard/src/cli"
)

// ConfigFileName is the file name for the typical repo config - this is normally checked in.
const ConfigFileName = ".hoardconfig"

// LocalConfigFileName is the file name for the local repo config - this is not
// normally checked in and used to override settings on the local machine.
const LocalConfigFileName = ".hoardconfig.local"

// MachineConfigFileName is the machine-level config - can use this to override
// things for a particular machine (eg. build machine with different caching behaviour).
const MachineConfigFileName = "/etc/hoardconfig"

// A Configuration contains all the settings that can be defined in the config files.
type Configuration struct {
	Cache struct {
		Dir                   string       `help:"Directory for the local content-addressable store."`
		DirClean              bool         `help:"Whether to clean the local store when it exceeds its high water mark."`
		DirCacheHighWaterMark cli.ByteSize `help:"Size at which to start cleaning the local store."`
		DirCacheLowWaterMark  cli.ByteSize `help:"Size to clean the local store down to."`
		HTTPURL               string       `help:"Base URL of an HTTP blob store."`
		HTTPWriteable         bool         `help:"Whether the HTTP blob store accepts writes."`
		HTTPTimeout           cli.Duration `help:"Timeout on HTTP blob store requests."`
	}
	Storage struct {
		Backend                 []string     `help:"Named storage backends forming the sharded topology, as name=url pairs."`
		VirtualNodes            int          `help:"Number of virtual ring points per backend."`
		Universe                string       `help:"Cache universe; different universes never share entries."`
		Namespace               string       `help:"Namespace within the universe."`
		ClientTimeout           cli.Duration `help:"Timeout on creating a backend client. Zero means unbounded."`
		MinReplicaCount         int          `help:"Number of replicas that must confirm presence before a pin is trusted."`
		AvailabilityProbability string       `help:"Probability in [0,1] that a single replica's pin answer is trusted without consulting others."`
	}
	Fingerprint struct {
		GlobalSalt        string `help:"Salt mixed into every weak fingerprint."`
		AugmentThreshold  int    `help:"Number of selectors for one weak fingerprint above which augmentation kicks in. Zero disables it."`
		CommonalityFactor string `help:"Fraction in (0,1] of observed sets a path must appear in to survive augmentation."`
	}
	Miss struct {
		Rate   string   `help:"Fraction in [0,1] of would-be cache hits to artificially convert to misses."`
		Seed   int64    `help:"Seed for deterministic artificial miss selection."`
		Invert bool     `help:"Invert the artificial miss set at the same rate and seed."`
		Forced []string `help:"Pip labels that always miss regardless of rate."`
	}
	Metrics struct {
		PushGatewayURL string       `help:"URL of a Prometheus pushgateway to report metrics to."`
		PushFrequency  cli.Duration `help:"Frequency to push metrics at."`
		PushTimeout    cli.Duration `help:"Timeout on pushing metrics."`
	}
}

// DefaultConfiguration returns the default configuration before any file is read.
func DefaultConfiguration() *Configuration {
	config := &Configuration{}
	config.Cache.Dir = ".hoard-cache"
	config.Cache.DirCacheHighWaterMark = 10 * 1000 * 1000 * 1000
	config.Cache.DirCacheLowWaterMark = 8 * 1000 * 1000 * 1000
	config.Cache.HTTPTimeout = cli.Duration(20 * time.Second)
	config.Storage.VirtualNodes = 100
	config.Storage.Universe = "default"
	config.Storage.Namespace = "default"
	config.Storage.MinReplicaCount = 1
	config.Storage.AvailabilityProbability = "1.0"
	config.Fingerprint.CommonalityFactor = "0.7"
	config.Miss.Rate = "0.0"
	config.Metrics.PushFrequency = cli.Duration(time.Minute)
	config.Metrics.PushTimeout = cli.Duration(500 * time.Millisecond)
	return config
}

func readConfigFile(config *Configuration, filename string) error {
	if err := gcfg.ReadFileInto(config, filename); err != nil && os.IsNotExist(err) {
		return nil // It's not an error to not have the file at all.
	} else if err != nil {
		return err
	}
	log.Debug("Read config from %s", filename)
	return nil
}

// ReadConfigFiles reads config files from the given locations, in order.
// Values are filled in by defaults initially and then overridden by each file in turn.
func ReadConfigFiles(filenames []string) (*Configuration, error) {
	config := DefaultConfiguration()
	for _, filename := range filenames {
		if err := readConfigFile(config, filename); err != nil {
			return config, err
		}
	}
	return config, config.Validate()
}

// Validate checks fields that gcfg cannot type-check itself. Configuration
// errors are fatal at startup, before any lookup or publish is attempted.
func (config *Configuration) Validate() error {
	if _, err := fraction("miss.rate", config.Miss.Rate); err != nil {
		return err
	}
	if _, err := fraction("fingerprint.commonalityfactor", config.Fingerprint.CommonalityFactor); err != nil {
		return err
	}
	if _, err := fraction("storage.availabilityprobability", config.Storage.AvailabilityProbability); err != nil {
		return err
	}
	if config.Storage.MinReplicaCount < 1 {
		return fmt.Errorf("storage.minreplicacount must be at least 1, got %d", config.Storage.MinReplicaCount)
	}
	return nil
}

// MissRate returns the configured artificial miss rate as a float.
func (config *Configuration) MissRate() float64 {
	f, _ := fraction("miss.rate", config.Miss.Rate)
	return f
}

// CommonalityFactor returns the configured augmentation commonality factor.
func (config *Configuration) CommonalityFactor() float64 {
	f, _ := fraction("fingerprint.commonalityfactor", config.Fingerprint.CommonalityFactor)
	return f
}

// AvailabilityProbability returns the configured replica availability probability.
func (config *Configuration) AvailabilityProbability() float64 {
	f, _ := fraction("storage.availabilityprobability", config.Storage.AvailabilityProbability)
	return f
}

func fraction(name, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s", name, value)
	} else if f < 0 || f > 1 {
		return 0, fmt.Errorf("%s must be between 0 and 1, got %s", name, value)
	}
	return f, nil
}
