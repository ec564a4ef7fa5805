package simulator

import "sort"

// ProfileStep sets a value from AtS seconds after the scenario start.
type ProfileStep struct {
	AtS float64 `yaml:"at_s"`
	W   float64 `yaml:"w"`
}

// Profile is a piecewise constant power profile.
type Profile []ProfileStep

func (p Profile) sorted() Profile {
	out := append(Profile(nil), p...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AtS < out[j].AtS })
	return out
}

// At returns the value of the last step starting at or before s, or 0.
func (p Profile) At(s float64) float64 {
	v := 0.0
	for _, st := range p {
		if st.AtS > s {
			break
		}
		v = st.W
	}
	return v
}

// Site describes household consumption and PV production.
type Site struct {
	BaseLoadW float64 `yaml:"base_load_w"`
	Load      Profile `yaml:"load"`
	PV        Profile `yaml:"pv"`
}

// LoadAt returns the consumption at s seconds.
func (s Site) LoadAt(sec float64) float64 { return s.BaseLoadW + s.Load.At(sec) }

// PVAt returns the PV production at s seconds.
func (s Site) PVAt(sec float64) float64 { return s.PV.At(sec) }

// GridW returns the grid exchange for the given battery power, import positive.
func (s Site) GridW(sec, batteryW float64) float64 {
	return s.LoadAt(sec) - s.PVAt(sec) - batteryW
}
