package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// GroupConfig describes one margin group and the markets listed in it.
// The layout matches the venue's published ids file, so that file can be
// referenced directly through groupsPath.
type GroupConfig struct {
	Name           string         `yaml:"name"`
	Cluster        string         `yaml:"cluster"`
	PublicKey      string         `yaml:"publicKey"`
	MangoProgramID string         `yaml:"mangoProgramId"`
	SerumProgramID string         `yaml:"serumProgramId"`
	QuoteSymbol    string         `yaml:"quoteSymbol"`
	Tokens         []TokenConfig  `yaml:"tokens"`
	SpotMarkets    []MarketConfig `yaml:"spotMarkets"`
	PerpMarkets    []MarketConfig `yaml:"perpMarkets"`
}

// TokenConfig lists a token mint and its decimals.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	MintKey  string `yaml:"mintKey"`
	Decimals int32  `yaml:"decimals"`
}

// MarketConfig is a single spot or perp market entry.
type MarketConfig struct {
	Name          string `yaml:"name"`
	PublicKey     string `yaml:"publicKey"`
	MarketIndex   int    `yaml:"marketIndex"`
	BaseSymbol    string `yaml:"baseSymbol"`
	BaseDecimals  int32  `yaml:"baseDecimals"`
	QuoteDecimals int32  `yaml:"quoteDecimals"`
	BidsKey       string `yaml:"bidsKey"`
	AsksKey       string `yaml:"asksKey"`
	EventsKey     string `yaml:"eventsKey"`
}

type groupsFile struct {
	Groups []GroupConfig `yaml:"groups"`
}

// loadGroupsFile reads groups from a standalone YAML or JSON ids file.
func loadGroupsFile(path string) ([]GroupConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}
	var file groupsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal groups file: %w", err)
	}
	return file.Groups, nil
}

func (g *GroupConfig) normalise() {
	g.Name = strings.TrimSpace(g.Name)
	g.PublicKey = strings.TrimSpace(g.PublicKey)
	g.MangoProgramID = strings.TrimSpace(g.MangoProgramID)
	g.SerumProgramID = strings.TrimSpace(g.SerumProgramID)
	g.QuoteSymbol = strings.TrimSpace(g.QuoteSymbol)
	for i := range g.SpotMarkets {
		g.SpotMarkets[i].normalise()
	}
	for i := range g.PerpMarkets {
		g.PerpMarkets[i].normalise()
	}
}

func (m *MarketConfig) normalise() {
	m.Name = strings.TrimSpace(m.Name)
	m.PublicKey = strings.TrimSpace(m.PublicKey)
	m.BaseSymbol = strings.TrimSpace(m.BaseSymbol)
	m.BidsKey = strings.TrimSpace(m.BidsKey)
	m.AsksKey = strings.TrimSpace(m.AsksKey)
	m.EventsKey = strings.TrimSpace(m.EventsKey)
}

func (g GroupConfig) validate() error {
	if g.Name == "" {
		return fmt.Errorf("name required")
	}
	for field, key := range map[string]string{
		"publicKey":      g.PublicKey,
		"mangoProgramId": g.MangoProgramID,
		"serumProgramId": g.SerumProgramID,
	} {
		if _, err := solana.PublicKeyFromBase58(key); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	seen := make(map[string]struct{}, len(g.SpotMarkets)+len(g.PerpMarkets))
	check := func(kind string, m MarketConfig) error {
		if m.Name == "" {
			return fmt.Errorf("%s market name required", kind)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate market name %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.MarketIndex < 0 {
			return fmt.Errorf("market %s: marketIndex must be >=0", m.Name)
		}
		if m.BaseDecimals < 0 || m.QuoteDecimals < 0 {
			return fmt.Errorf("market %s: decimals must be >=0", m.Name)
		}
		if _, err := solana.PublicKeyFromBase58(m.PublicKey); err != nil {
			return fmt.Errorf("market %s publicKey: %w", m.Name, err)
		}
		// book keys are optional; the decoded market header carries them too
		for field, key := range map[string]string{"bidsKey": m.BidsKey, "asksKey": m.AsksKey, "eventsKey": m.EventsKey} {
			if key == "" {
				continue
			}
			if _, err := solana.PublicKeyFromBase58(key); err != nil {
				return fmt.Errorf("market %s %s: %w", m.Name, field, err)
			}
		}
		return nil
	}
	for _, m := range g.SpotMarkets {
		if err := check("spot", m); err != nil {
			return err
		}
	}
	for _, m := range g.PerpMarkets {
		if err := check("perp", m); err != nil {
			return err
		}
	}
	return nil
}
