// Package units routes a raster's vertical unit to the raster function
// chain that converts its elevations into US survey feet.
package units

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoMatchingChain is returned when no chain accepts a vertical unit.
var ErrNoMatchingChain = errors.New("no function chain for vertical unit")

// ErrDuplicateChain is returned when two chains share a name.
var ErrDuplicateChain = errors.New("duplicate function chain")

const (
	// MetersToUSFeet converts meters to US survey feet.
	MetersToUSFeet = 3937.0 / 1200.0
	// IntlFeetToUSFeet converts international feet to US survey feet.
	IntlFeetToUSFeet = 0.3048 * MetersToUSFeet
)

// Chain is one raster function chain.
type Chain struct {
	Name    string  `yaml:"name"`
	ZFactor float64 `yaml:"z_factor"`

	// Match holds keyword groups. The upper-cased vertical unit must contain
	// at least one keyword of every group. No groups matches anything.
	Match [][]string `yaml:"match"`
}

// Matches reports whether the chain accepts the vertical unit.
func (c Chain) Matches(verticalUnit string) bool {
	u := strings.ToUpper(verticalUnit)
	for _, group := range c.Match {
		hit := false
		for _, kw := range group {
			if strings.Contains(u, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// DefaultChains returns the meters, international feet and US feet chains.
func DefaultChains() []Chain {
	feet := []string{"FEET", "FOOT", "FT"}
	return []Chain{
		{Name: "Contour_Meters", ZFactor: MetersToUSFeet},
		{Name: "Contour_IntlFeet", ZFactor: IntlFeetToUSFeet, Match: [][]string{feet}},
		{Name: "Contour_Feet", ZFactor: 1, Match: [][]string{feet, {"US", "SURVEY"}}},
	}
}

// Router picks the most specific chain for a vertical unit.
type Router struct {
	chains []Chain
}

// NewRouter creates a router. Chains are ordered by the number of keyword
// groups, most specific first, so a catch-all chain is consulted last.
func NewRouter(chains []Chain) (*Router, error) {
	if len(chains) == 0 {
		return nil, errors.New("at least one function chain must be configured")
	}

	sorted := make([]Chain, len(chains))
	copy(sorted, chains)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})

	seen := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		if c.Name == "" {
			return nil, errors.New("function chain without a name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateChain, c.Name)
		}
		if c.ZFactor <= 0 {
			return nil, fmt.Errorf("function chain %q: z factor must be positive", c.Name)
		}
		seen[c.Name] = true
	}

	return &Router{chains: sorted}, nil
}

// Route returns the chain for the vertical unit.
func (r *Router) Route(verticalUnit string) (*Chain, error) {
	for i := range r.chains {
		if r.chains[i].Matches(verticalUnit) {
			return &r.chains[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoMatchingChain, verticalUnit)
}
