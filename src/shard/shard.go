// Package shard maps sharding keys onto storage backends and manages the
// lazily-created clients for them. The mapping is a consistent-hash ring
// over a fixed set of backend names, so it is deterministic given the same
// configuration and moves a minimal number of keys when backends change.
package shard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/hoard/src/cmap"
	"github.com/thought-machine/hoard/src/core"
)

var log = logging.MustGetLogger("shard")

// formatVersion is baked into container names; bumping it separates
// incompatible generations of stored data within a shared backend.
const formatVersion = "1"

// A Location identifies the storage a sharding key resolves to: a backend
// account and a container within it. Locations are value types and are used
// as map keys.
type Location struct {
	Account   string
	Container string
}

func (l Location) String() string {
	return l.Account + "/" + l.Container
}

// A Backend is one configured storage backend.
type Backend struct {
	Name string
	URL  string
}

// A Scheme is a deterministic mapping from sharding keys to backends.
type Scheme struct {
	backends map[string]Backend
	points   []ringPoint
}

type ringPoint struct {
	hash    uint64
	backend string
}

// NewScheme builds a scheme over the configured backends. Each config entry
// is a name=url pair; a malformed entry or an empty set is a configuration
// error, fatal at startup.
func NewScheme(config *core.Configuration) (*Scheme, error) {
	if len(config.Storage.Backend) == 0 {
		return nil, fmt.Errorf("no storage backends configured")
	}
	virtualNodes := config.Storage.VirtualNodes
	if virtualNodes <= 0 {
		virtualNodes = 1
	}
	s := &Scheme{backends: map[string]Backend{}}
	for _, entry := range config.Storage.Backend {
		name, url, found := strings.Cut(entry, "=")
		if !found || name == "" || url == "" {
			return nil, fmt.Errorf("invalid storage backend %s, must be a name=url pair", entry)
		} else if _, present := s.backends[name]; present {
			return nil, fmt.Errorf("duplicate storage backend %s", name)
		}
		s.backends[name] = Backend{Name: name, URL: url}
		for i := 0; i < virtualNodes; i++ {
			s.points = append(s.points, ringPoint{
				hash:    cmap.XXHash(fmt.Sprintf("%s#%d", name, i)),
				backend: name,
			})
		}
	}
	sort.Slice(s.points, func(i, j int) bool { return s.points[i].hash < s.points[j].hash })
	return s, nil
}

// Resolve maps a sharding key to the backend owning it.
// It is a pure function of the key and the scheme configuration.
func (s *Scheme) Resolve(key string) Backend {
	h := cmap.XXHash(key)
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].hash >= h })
	if i == len(s.points) {
		i = 0 // Wrapped all the way around the ring.
	}
	return s.backends[s.points[i].backend]
}

// Backends returns the configured backends, sorted by name.
func (s *Scheme) Backends() []Backend {
	ret := make([]Backend, 0, len(s.backends))
	for _, b := range s.backends {
		ret = append(ret, b)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

var containerChars = regexp.MustCompile("[^a-z0-9-]+")

// ContainerName derives the logical container name for blobs of the given
// purpose within a universe and namespace. The name is reproducible from
// configuration alone, so independent universes and namespaces never collide
// in a shared backend and no registry lookup is needed.
func ContainerName(purpose, universe, namespace string) string {
	sanitise := func(s string) string {
		return containerChars.ReplaceAllString(strings.ToLower(s), "-")
	}
	return fmt.Sprintf("hoard-v%s-%s-%s-%s", formatVersion, sanitise(purpose), sanitise(universe), sanitise(namespace))
}
