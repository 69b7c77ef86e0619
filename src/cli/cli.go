// Package cli contains helper functions related to flag parsing and logging.
package cli

import (
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	cli "github.com/peterebden/go-cli-init/v5/flags"
	clilogging "github.com/peterebden/go-cli-init/v5/logging"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("cli")

// A Verbosity is used as a flag to define logging verbosity.
type Verbosity = clilogging.Verbosity

// ParseFlagsOrDie parses the app's flags and dies if unsuccessful.
// It returns the active command if there is one.
func ParseFlagsOrDie(appname string, data interface{}) string {
	return cli.ParseFlagsOrDie(appname, data, nil)
}

// InitLogging initialises logging to stderr at the given verbosity.
func InitLogging(verbosity Verbosity) {
	setLogBackend(logging.NewLogBackend(os.Stderr, "", 0), logging.Level(verbosity))
}

// InitFileLogging initialises an additional logging backend to a file.
func InitFileLogging(filename string, verbosity Verbosity) {
	if err := os.MkdirAll(path.Dir(filename), os.ModeDir|0775); err != nil {
		log.Fatalf("Error creating log file directory: %s", err)
	}
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Error opening log file: %s", err)
	}
	// Keep logging to stderr as well as the file.
	logging.SetBackend(leveledBackend(logging.NewLogBackend(os.Stderr, "", 0), logging.Level(verbosity)),
		leveledBackend(logging.NewLogBackend(file, "", 0), logging.Level(verbosity)))
}

func setLogBackend(backend logging.Backend, level logging.Level) {
	logging.SetBackend(leveledBackend(backend, level))
}

func leveledBackend(backend logging.Backend, level logging.Level) logging.LeveledBackend {
	formatter := logging.MustStringFormatter("%{time:15:04:05.000} %{level:7s}: %{message}")
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, formatter))
	leveled.SetLevel(level, "")
	return leveled
}

// A ByteSize is used for flags and config fields that represent a quantity of
// bytes that can be passed as human-readable quantities (eg. "10G").
type ByteSize uint64

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (b *ByteSize) UnmarshalFlag(in string) error {
	b2, err := humanize.ParseBytes(in)
	*b = ByteSize(b2)
	return err
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.UnmarshalFlag(string(text))
}

// A Duration is used for flags and config fields that represent a time
// duration; it accepts either Go duration syntax ("10m") or a plain number
// of seconds.
type Duration time.Duration

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (d *Duration) UnmarshalFlag(in string) error {
	d2, err := time.ParseDuration(in)
	if err != nil {
		d2, err = time.ParseDuration(in + "s")
	}
	*d = Duration(d2)
	return err
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.UnmarshalFlag(string(text))
}
