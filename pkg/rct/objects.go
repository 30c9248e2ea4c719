// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Object describes a well-known inverter object id
type Object struct {
	ID    uint32
	Name  string // inverter-side object name
	Alias string // short name accepted on the command line
	Unit  string
	Scale float32 // multiply the raw value by Scale for display
}

var objects = []Object{
	{ID: 0x959930BF, Name: "battery.soc", Alias: "soc", Unit: "%", Scale: 100},
	{ID: 0x400F015B, Name: "g_sync.p_acc_lp", Alias: "battery", Unit: "W", Scale: 1},
	{ID: 0xA7FA5C5D, Name: "battery.voltage", Alias: "battery_voltage", Unit: "V", Scale: 1},
	{ID: 0x1AC87AA0, Name: "g_sync.p_ac_load_sum_lp", Alias: "load", Unit: "W", Scale: 1},
	{ID: 0x91617C58, Name: "g_sync.p_ac_grid_sum_lp", Alias: "grid", Unit: "W", Scale: 1},
	{ID: 0xDB2D69AE, Name: "g_sync.p_ac_sum_lp", Alias: "inverter", Unit: "W", Scale: 1},
	{ID: 0xDB11855B, Name: "dc_conv.dc_conv_struct[0].p_dc_lp", Alias: "solar_a", Unit: "W", Scale: 1},
	{ID: 0x0CB5D21B, Name: "dc_conv.dc_conv_struct[1].p_dc_lp", Alias: "solar_b", Unit: "W", Scale: 1},
}

// Objects returns the catalogue of well-known objects sorted by alias
func Objects() []Object {
	out := append([]Object(nil), objects...)
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// LookupObject finds a catalogue entry by id
func LookupObject(id uint32) (Object, bool) {
	for _, o := range objects {
		if o.ID == id {
			return o, true
		}
	}
	return Object{}, false
}

// ParseObjectID accepts a catalogue alias or name, a 0x-prefixed hex id
// or a decimal id.
func ParseObjectID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	for _, o := range objects {
		if strings.EqualFold(s, o.Alias) || s == o.Name {
			return o.ID, nil
		}
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown object %q: not a catalogue name or numeric id", s)
	}
	return uint32(v), nil
}
