// Package taxonomy assigns discipline/sector/subsector to finding records.
// Classification is a pure function over the record text and the loaded rule
// set: no model call, no randomness, no clock. Same record + same taxonomy
// version = byte-identical output.
package taxonomy

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Rule maps keyword hits to one taxonomy bucket. Weight scales each hit.
type Rule struct {
	Discipline string   `toml:"discipline"`
	Sector     string   `toml:"sector"`
	Subsector  string   `toml:"subsector"`
	Keywords   []string `toml:"keywords"`
	Weight     float64  `toml:"weight"`
}

type ruleFile struct {
	Version string `toml:"version"`
	Rules   []Rule `toml:"rules"`
}

// Fallback bucket for records no rule claims.
const (
	DefaultDiscipline = "General"
	DefaultSector     = "General"

	// fallbackConfidence sits below any sane review threshold so unclaimed
	// records route to review rather than library.
	fallbackConfidence = 0.2
)

// LoadRules reads a TOML rule file. The version in the file wins over the
// configured taxonomy version when present.
func LoadRules(path string) ([]Rule, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read taxonomy rules '%s': %w", path, err)
	}
	var rf ruleFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, "", fmt.Errorf("failed to parse taxonomy rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, "", fmt.Errorf("taxonomy rules file '%s' contains no rules", path)
	}
	for i, r := range rf.Rules {
		if r.Discipline == "" || len(r.Keywords) == 0 {
			return nil, "", fmt.Errorf("taxonomy rule %d missing discipline or keywords", i)
		}
	}
	return rf.Rules, rf.Version, nil
}

// DefaultRules is the built-in physical-security taxonomy, used when no rule
// file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{Discipline: "Physical Security", Sector: "Access Control", Subsector: "Doors and Locks",
			Keywords: []string{"door", "lock", "unlocked", "key", "latch", "deadbolt", "propped"}, Weight: 1.0},
		{Discipline: "Physical Security", Sector: "Access Control", Subsector: "Credentialing",
			Keywords: []string{"badge", "credential", "card reader", "access card", "tailgating", "piggybacking", "visitor"}, Weight: 1.0},
		{Discipline: "Physical Security", Sector: "Perimeter", Subsector: "Fencing and Barriers",
			Keywords: []string{"fence", "gate", "barrier", "bollard", "perimeter", "wall"}, Weight: 1.0},
		{Discipline: "Physical Security", Sector: "Surveillance", Subsector: "CCTV",
			Keywords: []string{"camera", "cctv", "surveillance", "blind spot", "monitoring", "recording"}, Weight: 1.0},
		{Discipline: "Physical Security", Sector: "Lighting", Subsector: "",
			Keywords: []string{"lighting", "illumination", "dark", "floodlight", "light fixture"}, Weight: 0.9},
		{Discipline: "Physical Security", Sector: "Intrusion Detection", Subsector: "Alarms",
			Keywords: []string{"alarm", "sensor", "motion detector", "intrusion", "glass break"}, Weight: 1.0},
		{Discipline: "Cybersecurity", Sector: "Infrastructure", Subsector: "Server Rooms",
			Keywords: []string{"server room", "server", "network closet", "data center", "rack", "switch"}, Weight: 1.1},
		{Discipline: "Cybersecurity", Sector: "Infrastructure", Subsector: "Network",
			Keywords: []string{"wifi", "network", "ethernet", "router", "firewall", "port"}, Weight: 0.9},
		{Discipline: "Personnel Security", Sector: "Insider Threat", Subsector: "",
			Keywords: []string{"employee", "insider", "background check", "termination", "disgruntled"}, Weight: 0.9},
		{Discipline: "Personnel Security", Sector: "Training", Subsector: "Awareness",
			Keywords: []string{"training", "awareness", "procedure", "policy", "drill"}, Weight: 0.8},
		{Discipline: "Emergency Management", Sector: "Preparedness", Subsector: "Evacuation",
			Keywords: []string{"evacuation", "emergency exit", "fire", "shelter", "assembly point", "first aid"}, Weight: 1.0},
		{Discipline: "Operations Security", Sector: "Mailroom and Deliveries", Subsector: "",
			Keywords: []string{"mail", "package", "delivery", "loading dock", "shipment", "screening"}, Weight: 0.9},
	}
}

func keywordHits(text, keyword string) int {
	return strings.Count(text, keyword)
}
