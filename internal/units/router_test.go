package units

import (
	"errors"
	"testing"
)

func TestRouterRoute(t *testing.T) {
	router, err := NewRouter(DefaultChains())
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	tests := []struct {
		unit     string
		expected string
	}{
		{"MT", "Contour_Meters"},
		{"Meter", "Contour_Meters"},
		{"", "Contour_Meters"},
		{"Foot", "Contour_IntlFeet"},
		{"INTL FEET", "Contour_IntlFeet"},
		{"ft", "Contour_IntlFeet"},
		{"Foot_US", "Contour_Feet"},
		{"US Survey Feet", "Contour_Feet"},
		{"SURVEY_FT", "Contour_Feet"},
	}

	for _, tt := range tests {
		chain, err := router.Route(tt.unit)
		if err != nil {
			t.Errorf("Route(%q) failed: %v", tt.unit, err)
			continue
		}
		if chain.Name != tt.expected {
			t.Errorf("Route(%q) = %s, want %s", tt.unit, chain.Name, tt.expected)
		}
	}
}

func TestRouterNoCatchAll(t *testing.T) {
	router, err := NewRouter([]Chain{
		{Name: "feet_only", ZFactor: 1, Match: [][]string{{"FT"}}},
	})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	_, err = router.Route("MT")
	if !errors.Is(err, ErrNoMatchingChain) {
		t.Errorf("expected ErrNoMatchingChain, got %v", err)
	}
}

func TestRouterValidation(t *testing.T) {
	tests := []struct {
		name   string
		chains []Chain
	}{
		{"empty", nil},
		{"duplicate", []Chain{{Name: "a", ZFactor: 1}, {Name: "a", ZFactor: 2}}},
		{"unnamed", []Chain{{ZFactor: 1}}},
		{"zero factor", []Chain{{Name: "a"}}},
	}

	for _, tt := range tests {
		if _, err := NewRouter(tt.chains); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestZFactors(t *testing.T) {
	if d := MetersToUSFeet - 3.280833333; d > 1e-8 || d < -1e-8 {
		t.Errorf("MetersToUSFeet = %v", MetersToUSFeet)
	}
	if d := IntlFeetToUSFeet - 0.999998; d > 1e-6 || d < -1e-6 {
		t.Errorf("IntlFeetToUSFeet = %v", IntlFeetToUSFeet)
	}
}
