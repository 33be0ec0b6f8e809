package priority

// Tier is a priority class. Lower values are more urgent.
type Tier int

const (
	Express Tier = iota
	Standard
	Background

	numTiers = 3
)

// AllTiers lists the tiers from most to least urgent.
var AllTiers = [numTiers]Tier{Express, Standard, Background}

func (t Tier) String() string {
	switch t {
	case Express:
		return "express"
	case Standard:
		return "standard"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the three tiers.
func (t Tier) Valid() bool {
	return t >= Express && t <= Background
}

// donors returns the tiers t may borrow capacity from, in the order they are
// tried. Only less urgent tiers lend.
func (t Tier) donors() []Tier {
	switch t {
	case Express:
		return []Tier{Standard, Background}
	case Standard:
		return []Tier{Background}
	default:
		return nil
	}
}
