// Package markets discovers configured markets, decodes their on-chain state and
// normalizes their order books.
package markets

import (
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/config"
)

const component = "markets"

// GroupInfo carries the program and group addresses of the loaded group.
type GroupInfo struct {
	Name         string
	Address      solana.PublicKey
	MangoProgram solana.PublicKey
	SerumProgram solana.PublicKey
	QuoteSymbol  string
}

// Registry is the static, ordered list of markets of one group: spot markets
// first, then perp markets, each in configuration order. It is immutable
// after LoadRegistry returns.
type Registry struct {
	group     GroupInfo
	markets   []schema.MarketDescriptor
	byName    map[string]int
	byAddress map[solana.PublicKey]int
}

// LoadRegistry builds the registry for the group called name.
func LoadRegistry(groups []config.GroupConfig, name string) (*Registry, error) {
	name = strings.TrimSpace(name)
	var group *config.GroupConfig
	for i := range groups {
		if groups[i].Name == name {
			group = &groups[i]
			break
		}
	}
	if group == nil {
		return nil, errs.Config("unknown group", errs.WithField("group", name))
	}

	info := GroupInfo{Name: group.Name, QuoteSymbol: group.QuoteSymbol}
	if info.QuoteSymbol == "" {
		info.QuoteSymbol = "USDC"
	}
	var err error
	if info.Address, err = parseKey(group.PublicKey, "group publicKey"); err != nil {
		return nil, err
	}
	if info.MangoProgram, err = parseKey(group.MangoProgramID, "mangoProgramId"); err != nil {
		return nil, err
	}
	if info.SerumProgram, err = parseKey(group.SerumProgramID, "serumProgramId"); err != nil {
		return nil, err
	}

	r := &Registry{
		group:     info,
		markets:   make([]schema.MarketDescriptor, 0, len(group.SpotMarkets)+len(group.PerpMarkets)),
		byName:    make(map[string]int),
		byAddress: make(map[solana.PublicKey]int),
	}
	for _, m := range group.SpotMarkets {
		if err := r.add(m, schema.KindSpot); err != nil {
			return nil, err
		}
	}
	for _, m := range group.PerpMarkets {
		if err := r.add(m, schema.KindPerp); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(m config.MarketConfig, kind schema.MarketKind) error {
	desc := schema.MarketDescriptor{
		Name:          m.Name,
		Kind:          kind,
		BaseSymbol:    m.BaseSymbol,
		QuoteSymbol:   r.group.QuoteSymbol,
		BaseDecimals:  m.BaseDecimals,
		QuoteDecimals: m.QuoteDecimals,
		MarketIndex:   m.MarketIndex,
	}
	if desc.BaseSymbol == "" {
		desc.BaseSymbol = baseSymbolFromName(m.Name, kind)
	}
	var err error
	if desc.Address, err = parseKey(m.PublicKey, m.Name+" publicKey"); err != nil {
		return err
	}
	for _, opt := range []struct {
		raw  string
		dst  *solana.PublicKey
		what string
	}{
		{m.BidsKey, &desc.BidsAddress, "bidsKey"},
		{m.AsksKey, &desc.AsksAddress, "asksKey"},
		{m.EventsKey, &desc.EventQueueAddress, "eventsKey"},
	} {
		if opt.raw == "" {
			continue
		}
		if *opt.dst, err = parseKey(opt.raw, m.Name+" "+opt.what); err != nil {
			return err
		}
	}
	if _, dup := r.byName[desc.Name]; dup {
		return errs.Config("duplicate market name", errs.WithField("market", desc.Name))
	}
	if _, dup := r.byAddress[desc.Address]; dup {
		return errs.Config("duplicate market address", errs.WithField("market", desc.Name))
	}
	r.byName[desc.Name] = len(r.markets)
	r.byAddress[desc.Address] = len(r.markets)
	r.markets = append(r.markets, desc)
	return nil
}

// Group returns the loaded group's addresses.
func (r *Registry) Group() GroupInfo {
	return r.group
}

// Markets returns every descriptor in registry order.
func (r *Registry) Markets() []schema.MarketDescriptor {
	return append([]schema.MarketDescriptor(nil), r.markets...)
}

// Filter returns the descriptors named name, or all of them when name is empty.
func (r *Registry) Filter(name string) []schema.MarketDescriptor {
	if name == "" {
		return r.Markets()
	}
	out := make([]schema.MarketDescriptor, 0, 1)
	for _, m := range r.markets {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// ByName looks a market up by exact name.
func (r *Registry) ByName(name string) (schema.MarketDescriptor, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return schema.MarketDescriptor{}, false
	}
	return r.markets[idx], true
}

// ByAddress looks a market up by its market account address.
func (r *Registry) ByAddress(address solana.PublicKey) (schema.MarketDescriptor, bool) {
	idx, ok := r.byAddress[address]
	if !ok {
		return schema.MarketDescriptor{}, false
	}
	return r.markets[idx], true
}

// ByBaseSymbolAndKind returns the first market of kind whose base symbol matches.
func (r *Registry) ByBaseSymbolAndKind(symbol string, kind schema.MarketKind) (schema.MarketDescriptor, bool) {
	for _, m := range r.markets {
		if m.Kind == kind && strings.EqualFold(m.BaseSymbol, symbol) {
			return m, true
		}
	}
	return schema.MarketDescriptor{}, false
}

// Resolve is ByName returning an invalid-symbol error for unknown names.
func (r *Registry) Resolve(name string) (schema.MarketDescriptor, error) {
	desc, ok := r.ByName(name)
	if !ok {
		return schema.MarketDescriptor{}, errs.New(component, errs.CodeNotFound,
			errs.WithMessage("market not found"),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol),
			errs.WithField("market", name))
	}
	return desc, nil
}

// baseSymbolFromName splits "SOL/USDC" and "SOL-PERP" style names.
func baseSymbolFromName(name string, kind schema.MarketKind) string {
	sep := "/"
	if kind == schema.KindPerp {
		sep = "-"
	}
	base, _, _ := strings.Cut(name, sep)
	return base
}

func parseKey(raw, what string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw))
	if err != nil {
		return solana.PublicKey{}, errs.Config("invalid "+what, errs.WithCause(err))
	}
	return key, nil
}
