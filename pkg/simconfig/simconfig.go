// Package simconfig loads an ini-formatted channel-map description
// into a channel registry, for desktop simulation and test fixtures
// only (SPEC_FULL.md AMBIENT STACK "Configuration"). The on-wire
// config path a real device accepts remains the binary
// LOAD_BINARY_CONFIG command (spec §6); this package never touches
// that wire format.
//
// The section-per-entry, key-per-field shape is the teacher's EDS
// loader (pkg/od/parser.go: one [index] section per object dictionary
// entry) carried over unchanged, with channel id replacing CANopen
// index/subindex as the section key.
package simconfig

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/fleetwire/pmucore/pkg/registry"
)

var channelSectionRe = regexp.MustCompile(`^channel:(\d+)$`)

// Load parses the ini file at path and registers every [channel:N]
// section it finds into reg, returning the count registered.
func Load(path string, reg *registry.Registry) (int, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, path)
	if err != nil {
		return 0, fmt.Errorf("simconfig: %w", err)
	}
	return apply(cfg, reg)
}

// LoadBytes is Load for an in-memory ini document (test fixtures).
func LoadBytes(data []byte, reg *registry.Registry) (int, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, data)
	if err != nil {
		return 0, fmt.Errorf("simconfig: %w", err)
	}
	return apply(cfg, reg)
}

func apply(cfg *ini.File, reg *registry.Registry) (int, error) {
	count := 0
	for _, section := range cfg.Sections() {
		m := channelSectionRe.FindStringSubmatch(section.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 16)
		if err != nil {
			return count, fmt.Errorf("simconfig: bad channel id %q: %w", m[1], err)
		}
		rec := recordFromSection(registry.ChannelID(id), section)
		if err := reg.Register(rec); err != nil {
			return count, fmt.Errorf("simconfig: channel %d: %w", id, err)
		}
		count++
	}
	return count, nil
}

func recordFromSection(id registry.ChannelID, section *ini.Section) registry.Record {
	rec := registry.Record{
		ID:        id,
		Direction: parseDirection(section.Key("direction").MustString("input")),
		Format:    parseFormat(section.Key("format").MustString("raw")),
		Min:       int32(section.Key("min").MustInt(0)),
		Max:       int32(section.Key("max").MustInt(0)),
		Value:     int32(section.Key("value").MustInt(0)),
		Name:      section.Key("name").MustString(""),
		Unit:      section.Key("unit").MustString(""),
	}
	if section.Key("enabled").MustBool(true) {
		rec.Flags |= registry.FlagEnabled
	}
	if section.Key("inverted").MustBool(false) {
		rec.Flags |= registry.FlagInverted
	}
	if section.Key("fault_on_clamp").MustBool(false) {
		rec.FaultOnClamp = true
	}
	return rec
}

func parseDirection(s string) registry.Direction {
	switch s {
	case "output":
		return registry.DirOutput
	case "bidir":
		return registry.DirBidir
	default:
		return registry.DirInput
	}
}

func parseFormat(s string) registry.Format {
	switch s {
	case "percent":
		return registry.FormatPercent
	case "millivolt":
		return registry.FormatMillivolt
	case "milliamp":
		return registry.FormatMilliamp
	case "bool":
		return registry.FormatBool
	case "enum":
		return registry.FormatEnum
	case "signed":
		return registry.FormatSigned
	default:
		return registry.FormatRaw
	}
}
