// Package config parses and validates the pipeline's command-line
// configuration: a positional profile name followed by key=value arguments.
// This grammar cannot be expressed by a generic flag framework, so it is
// parsed directly (see DESIGN.md for why no third-party flag library is
// used here).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pspoerri/geo2mbtiles/internal/coord"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// Bounds is an explicit WGS84 bounding box, World for the whole Web
// Mercator extent, or Inferred (the default, set when no bounds key is
// given). The zero value is an explicit 0,0,0,0 box.
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	World                          bool
	Inferred                       bool
}

// Config is the fully validated, immutable configuration record the engine
// runs from. It is the only contract between the CLI/argument parser and
// the pipeline core.
type Config struct {
	ProfileName string

	Input         string
	Centerline    string
	NaturalEarth  string
	WaterPolygons string

	Output string
	TmpDir string

	Bounds Bounds

	Threads int

	MinZoom int
	MaxZoom int

	NameLanguages []string

	FetchWikidata bool
	UseWikidata   bool
	WikidataCache string

	DeferMbtilesIndexCreation bool
	OptimizeDb                bool

	LogInterval time.Duration
}

func defaults() Config {
	return Config{
		TmpDir:        "./data/tmp",
		Threads:       runtime.NumCPU(),
		MinZoom:       0,
		MaxZoom:       coord.MaxZoom,
		NameLanguages: []string{"en"},
		FetchWikidata: false,
		UseWikidata:   true,
		WikidataCache: "data/sources/wikidata_names.json",
		LogInterval:   10 * time.Second,
		Bounds:        Bounds{Inferred: true},
	}
}

// Parse interprets CLI-style arguments: the first positional argument is
// the profile name, remaining arguments are "key=value" pairs. Unknown keys,
// malformed values, and out-of-range settings are reported as BadArgument
// errors that name the offending key, per the pipeline's fatal-before-work
// error policy.
func Parse(args []string) (Config, error) {
	cfg := defaults()

	if len(args) == 0 {
		return Config{}, perr.New(perr.BadArgument, "config.Parse", fmt.Errorf("missing profile-name argument"))
	}
	cfg.ProfileName = args[0]

	seen := map[string]bool{}
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return Config{}, perr.New(perr.BadArgument, "config.Parse",
				fmt.Errorf("argument %q is not in key=value form", arg))
		}
		seen[key] = true
		if err := cfg.apply(key, value); err != nil {
			return Config{}, perr.New(perr.BadArgument, "config.Parse", err)
		}
	}

	if err := cfg.validate(seen); err != nil {
		return Config{}, perr.New(perr.BadArgument, "config.Parse", err)
	}
	return cfg, nil
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "input":
		c.Input = value
	case "centerline":
		c.Centerline = value
	case "natural_earth":
		c.NaturalEarth = value
	case "water_polygons":
		c.WaterPolygons = value
	case "output":
		c.Output = value
	case "tmpdir":
		c.TmpDir = value
	case "bounds":
		b, err := parseBounds(value)
		if err != nil {
			return fmt.Errorf("bounds: %w", err)
		}
		c.Bounds = b
	case "threads":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("threads: %q is not a positive integer", value)
		}
		c.Threads = n
	case "minzoom":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("minzoom: %q is not an integer", value)
		}
		c.MinZoom = n
	case "maxzoom":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("maxzoom: %q is not an integer", value)
		}
		c.MaxZoom = n
	case "name_languages":
		c.NameLanguages = strings.Split(value, ",")
	case "fetch_wikidata":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("fetch_wikidata: %q is not a boolean", value)
		}
		c.FetchWikidata = b
	case "use_wikidata":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("use_wikidata: %q is not a boolean", value)
		}
		c.UseWikidata = b
	case "wikidata_cache":
		c.WikidataCache = value
	case "defer_mbtiles_index_creation":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("defer_mbtiles_index_creation: %q is not a boolean", value)
		}
		c.DeferMbtilesIndexCreation = b
	case "optimize_db":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("optimize_db: %q is not a boolean", value)
		}
		c.OptimizeDb = b
	case "loginterval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("loginterval: %q is not a duration", value)
		}
		c.LogInterval = d
	default:
		return fmt.Errorf("unrecognized key %q", key)
	}
	return nil
}

func parseBounds(value string) (Bounds, error) {
	if value == "world" {
		return Bounds{World: true}, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("%q must be \"minLon,minLat,maxLon,maxLat\" or \"world\"", value)
	}
	var f [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("%q is not a number in %q", p, value)
		}
		f[i] = v
	}
	return Bounds{MinLon: f[0], MinLat: f[1], MaxLon: f[2], MaxLat: f[3]}, nil
}

// validate applies the cross-field rules from the CLI table: maxzoom is
// accepted in the inclusive range 0 <= maxzoom <= 14.
func (c *Config) validate(seen map[string]bool) error {
	if c.Input == "" {
		return fmt.Errorf("input: required")
	}
	if c.Output == "" {
		return fmt.Errorf("output: required")
	}
	if c.MinZoom < 0 {
		return fmt.Errorf("minzoom: %d must be >= 0", c.MinZoom)
	}
	if c.MaxZoom > coord.MaxZoom {
		return fmt.Errorf("maxzoom: %d exceeds maximum of %d", c.MaxZoom, coord.MaxZoom)
	}
	if c.MinZoom > c.MaxZoom {
		return fmt.Errorf("minzoom (%d) must be <= maxzoom (%d)", c.MinZoom, c.MaxZoom)
	}
	if !c.Bounds.World && !c.Bounds.Inferred {
		if c.Bounds.MinLon > c.Bounds.MaxLon || c.Bounds.MinLat > c.Bounds.MaxLat {
			return fmt.Errorf("bounds: min must be <= max")
		}
	}
	if c.FetchWikidata && c.WikidataCache == "" {
		return fmt.Errorf("wikidata_cache: required when fetch_wikidata=true")
	}
	return nil
}

// CheckInputsExist verifies the required and optional input paths exist,
// surfacing exit code 2 ("missing input") independently of BadArgument (1).
func (c *Config) CheckInputsExist() error {
	paths := []string{c.Input}
	if c.Centerline != "" {
		paths = append(paths, c.Centerline)
	}
	if c.NaturalEarth != "" {
		paths = append(paths, c.NaturalEarth)
	}
	if c.WaterPolygons != "" {
		paths = append(paths, c.WaterPolygons)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("input %q: %w", p, err)
		}
	}
	return nil
}
