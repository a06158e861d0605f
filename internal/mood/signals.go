package mood

import (
	"strconv"
	"strings"

	"github.com/hearthd/hearth/internal/store"
)

// Signal evaluates one mood dimension from a zone's graph nodes. The signal
// set is closed and ordered; each returns (value in [0,1], ok) where ok is
// false when the zone carries no input for the dimension.
type Signal interface {
	Name() string
	Evaluate(members []store.Node) (float64, bool)
}

// DefaultSignals returns the pipeline's signal set in evaluation order:
// comfort, joy, frugality.
func DefaultSignals() []Signal {
	return []Signal{comfortSignal{}, joySignal{}, frugalitySignal{}}
}

// comfortSignal scores proximity of environmental readings to ideal bands:
// temperature 19-24°C, humidity 35-55%, CO2 below 800 ppm, noise below 50 dB.
type comfortSignal struct{}

func (comfortSignal) Name() string { return "comfort" }

func (comfortSignal) Evaluate(members []store.Node) (float64, bool) {
	var sum float64
	var n int
	for i := range members {
		meta := members[i].Metadata
		if v, ok := metaFloat(meta, "temperature"); ok {
			sum += bandScore(v, 19, 24, 8)
			n++
		}
		if v, ok := metaFloat(meta, "humidity"); ok {
			sum += bandScore(v, 35, 55, 25)
			n++
		}
		if v, ok := metaFloat(meta, "co2"); ok {
			sum += ceilingScore(v, 800, 1200)
			n++
		}
		if v, ok := metaFloat(meta, "noise"); ok {
			sum += ceilingScore(v, 50, 40)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// joySignal scores activity: playing media and present people, weighted by
// each node's effective graph score so recently active entities count more.
type joySignal struct{}

func (joySignal) Name() string { return "joy" }

func (joySignal) Evaluate(members []store.Node) (float64, bool) {
	var active, relevant float64
	for i := range members {
		n := &members[i]
		domain := sourceDomain(n.ID)
		switch domain {
		case "media_player":
			relevant += 1
			if n.Metadata["state"] == "playing" {
				active += 1
			}
		case "person":
			relevant += 1
			if n.Metadata["state"] == "home" {
				active += 1
			}
		case "light", "switch":
			relevant += 0.5
			if n.Metadata["state"] == "on" {
				active += 0.5
			}
		}
	}
	if relevant == 0 {
		return 0, false
	}
	return active / relevant, true
}

// frugalitySignal scores energy production against consumption. With no
// production data at all, lower consumption still scores higher.
type frugalitySignal struct{}

func (frugalitySignal) Name() string { return "frugality" }

func (frugalitySignal) Evaluate(members []store.Node) (float64, bool) {
	var production, consumption float64
	var found bool
	for i := range members {
		meta := members[i].Metadata
		if v, ok := metaFloat(meta, "power_production"); ok {
			production += v
			found = true
		}
		if v, ok := metaFloat(meta, "power_consumption"); ok {
			consumption += v
			found = true
		}
	}
	if !found {
		return 0, false
	}
	if production+consumption == 0 {
		return 1, true
	}
	return production / (production + consumption), true
}

// bandScore is 1 inside [lo, hi] and falls off linearly to 0 at
// lo-falloff / hi+falloff.
func bandScore(v, lo, hi, falloff float64) float64 {
	switch {
	case v >= lo && v <= hi:
		return 1
	case v < lo:
		return clamp01(1 - (lo-v)/falloff)
	default:
		return clamp01(1 - (v-hi)/falloff)
	}
}

// ceilingScore is 1 at or below good and falls off linearly to 0 over the
// next span units.
func ceilingScore(v, good, span float64) float64 {
	if v <= good {
		return 1
	}
	return clamp01(1 - (v-good)/span)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func metaFloat(meta map[string]string, key string) (float64, bool) {
	s, ok := meta[key]
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func sourceDomain(id string) string {
	if i := strings.IndexAny(id, ".:"); i > 0 {
		return id[:i]
	}
	return id
}
