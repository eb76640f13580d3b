package contracts

import (
	"fmt"
	"time"
)

// DelayBounds is an inclusive [Min, Max] range of permissible timelock delays.
type DelayBounds struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// IsZero reports whether no bounds are set.
func (d DelayBounds) IsZero() bool {
	return d.Min == 0 && d.Max == 0
}

// Contains reports whether delay lies inside the bounds.
func (d DelayBounds) Contains(delay time.Duration) bool {
	return delay >= d.Min && delay <= d.Max
}

// Validate checks that Min does not exceed Max and neither is negative.
func (d DelayBounds) Validate() error {
	if d.Min < 0 || d.Max < 0 {
		return fmt.Errorf("negative delay bound [%s, %s]", d.Min, d.Max)
	}
	if d.Min > d.Max {
		return fmt.Errorf("min delay %s exceeds max delay %s", d.Min, d.Max)
	}
	return nil
}

// Tier is one value band of the tier table.
//
// Below is the exclusive upper bound of the band. The last band of a table
// has Below == 0 and covers every remaining value. A zero Delay falls back to
// the timelock policy's global range.
type Tier struct {
	Below                 uint64      `json:"below,omitempty" yaml:"below,omitempty"`
	RequiredConfirmations int         `json:"required_confirmations" yaml:"required_confirmations"`
	Delay                 DelayBounds `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// ValidateTiers checks the invariants of a tier table: at least one band,
// strictly increasing thresholds, an unbounded top band, positive and
// non-decreasing confirmation requirements and well-formed delay bounds.
func ValidateTiers(bands []Tier) error {
	if len(bands) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidTiers)
	}
	var prev uint64
	for i, b := range bands {
		last := i == len(bands)-1
		switch {
		case last && b.Below != 0:
			return fmt.Errorf("%w: top band must be unbounded (below=%d)", ErrInvalidTiers, b.Below)
		case !last && b.Below == 0:
			return fmt.Errorf("%w: band %d has no upper bound but is not last", ErrInvalidTiers, i)
		case !last && i > 0 && b.Below <= prev:
			return fmt.Errorf("%w: band %d threshold %d not above %d", ErrInvalidTiers, i, b.Below, prev)
		}
		if b.RequiredConfirmations < 1 {
			return fmt.Errorf("%w: band %d requires %d confirmations", ErrInvalidTiers, i, b.RequiredConfirmations)
		}
		if i > 0 && b.RequiredConfirmations < bands[i-1].RequiredConfirmations {
			return fmt.Errorf("%w: band %d lowers required confirmations", ErrInvalidTiers, i)
		}
		if err := b.Delay.Validate(); err != nil {
			return fmt.Errorf("%w: band %d: %v", ErrInvalidTiers, i, err)
		}
		prev = b.Below
	}
	return nil
}

// CloneTiers returns a copy of bands.
func CloneTiers(bands []Tier) []Tier {
	if bands == nil {
		return nil
	}
	out := make([]Tier, len(bands))
	copy(out, bands)
	return out
}
