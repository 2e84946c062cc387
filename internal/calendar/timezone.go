package calendar

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// Range of years for which transitions of a calendar-defined zone are
// materialized.
var (
	zoneRangeStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	zoneRangeEnd   = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// zoneResolver maps TZID parameters to locations. Names unknown to the tz
// database are resolved against the VTIMEZONE definitions of the document
// they appear in, as Exchange and Outlook feeds use Windows zone names.
type zoneResolver struct {
	defs  map[string]*ical.VTimezone
	cache map[string]*time.Location
}

func newZoneResolver(cal *ical.Calendar) *zoneResolver {
	z := &zoneResolver{
		defs:  make(map[string]*ical.VTimezone),
		cache: make(map[string]*time.Location),
	}
	if cal == nil {
		return z
	}
	for _, tz := range cal.Timezones() {
		if p := tz.GetProperty(ical.ComponentPropertyTzid); p != nil {
			z.defs[strings.TrimSpace(p.Value)] = tz
		}
	}
	return z
}

func (z *zoneResolver) location(tzid string) (*time.Location, error) {
	if z == nil {
		return time.LoadLocation(tzid)
	}
	if loc, ok := z.cache[tzid]; ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(tzid)
	if err != nil {
		def, ok := z.defs[tzid]
		if !ok {
			return nil, fmt.Errorf("unknown TZID %q: %w", tzid, err)
		}
		if loc, err = locationFromVTimezone(tzid, def); err != nil {
			return nil, fmt.Errorf("TZID %q: %w", tzid, err)
		}
	}
	z.cache[tzid] = loc
	return loc, nil
}

type observance struct {
	name       string
	dst        bool
	offsetFrom int
	offsetTo   int
	onsets     []time.Time
}

type transition struct {
	when int64
	obs  int
}

// locationFromVTimezone builds a location from the STANDARD and DAYLIGHT
// observances of def. An X-LIC-LOCATION naming a tz database zone wins.
func locationFromVTimezone(tzid string, def *ical.VTimezone) (*time.Location, error) {
	if p := def.GetProperty("X-LIC-LOCATION"); p != nil {
		if loc, err := time.LoadLocation(strings.TrimSpace(p.Value)); err == nil {
			return loc, nil
		}
	}

	var observances []observance
	for _, c := range def.Components {
		var (
			base *ical.ComponentBase
			dst  bool
		)
		switch v := c.(type) {
		case *ical.Standard:
			base = &v.ComponentBase
		case *ical.Daylight:
			base, dst = &v.ComponentBase, true
		default:
			continue
		}
		obs, err := parseObservance(base, dst)
		if err != nil {
			return nil, err
		}
		observances = append(observances, obs)
	}
	if len(observances) == 0 {
		return nil, errors.New("VTIMEZONE has no observances")
	}
	if len(observances) > 250 {
		return nil, fmt.Errorf("VTIMEZONE has %d observances", len(observances))
	}

	var txs []transition
	for i, obs := range observances {
		for _, wall := range obs.onsets {
			// Onsets are wall times in the offset in effect before them.
			txs = append(txs, transition{when: wall.Unix() - int64(obs.offsetFrom), obs: i})
		}
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].when < txs[j].when })

	// The zone before the first transition is the standard offset the
	// earliest observance switches away from.
	initial := observance{name: "STD", offsetTo: observances[0].offsetFrom}
	if len(txs) > 0 {
		initial.offsetTo = observances[txs[0].obs].offsetFrom
	}
	return time.LoadLocationFromTZData(tzid, encodeTZif(initial, observances, txs))
}

func parseObservance(base *ical.ComponentBase, dst bool) (observance, error) {
	obs := observance{dst: dst, name: "STD"}
	if dst {
		obs.name = "DST"
	}
	if p := base.GetProperty("TZNAME"); p != nil {
		if name := strings.TrimSpace(p.Value); name != "" && len(name) <= 16 {
			obs.name = name
		}
	}

	var err error
	if obs.offsetFrom, err = parseUTCOffset(base.GetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom))); err != nil {
		return obs, fmt.Errorf("TZOFFSETFROM: %w", err)
	}
	if obs.offsetTo, err = parseUTCOffset(base.GetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto))); err != nil {
		return obs, fmt.Errorf("TZOFFSETTO: %w", err)
	}

	p := base.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return obs, errors.New("observance without DTSTART")
	}
	// Observance times are local wall times; they are kept as UTC-labelled
	// wall clocks and shifted by the offset when the transitions are built.
	start, err := time.Parse("20060102T150405", strings.TrimSuffix(strings.TrimSpace(p.Value), "Z"))
	if err != nil {
		return obs, fmt.Errorf("DTSTART: %w", err)
	}

	if p := base.GetProperty(ical.ComponentPropertyRrule); p != nil {
		opt, err := rrule.StrToROption(strings.TrimSpace(p.Value))
		if err != nil {
			return obs, fmt.Errorf("RRULE: %w", err)
		}
		opt.Dtstart = start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return obs, fmt.Errorf("RRULE: %w", err)
		}
		if before := r.Before(zoneRangeStart, false); !before.IsZero() {
			obs.onsets = append(obs.onsets, before)
		}
		obs.onsets = append(obs.onsets, r.Between(zoneRangeStart, zoneRangeEnd, true)...)
	} else {
		obs.onsets = append(obs.onsets, start)
	}

	for _, p := range base.GetProperties(ical.ComponentPropertyRdate) {
		for _, v := range strings.Split(p.Value, ",") {
			t, err := time.Parse("20060102T150405", strings.TrimSuffix(strings.TrimSpace(v), "Z"))
			if err != nil {
				return obs, fmt.Errorf("RDATE: %w", err)
			}
			obs.onsets = append(obs.onsets, t)
		}
	}
	return obs, nil
}

// parseUTCOffset parses a UTC-OFFSET value such as +0100, -0530 or +013045.
func parseUTCOffset(p *ical.IANAProperty) (int, error) {
	if p == nil {
		return 0, errors.New("missing")
	}
	v := strings.TrimSpace(p.Value)
	if len(v) != 5 && len(v) != 7 {
		return 0, fmt.Errorf("invalid offset %q", v)
	}
	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("invalid offset %q", v)
	}
	digits := v[1:]
	if len(digits) == 4 {
		digits += "00"
	}
	hh, err1 := strconv.Atoi(digits[0:2])
	mm, err2 := strconv.Atoi(digits[2:4])
	ss, err3 := strconv.Atoi(digits[4:6])
	if err := errors.Join(err1, err2, err3); err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", v, err)
	}
	return sign * (hh*3600 + mm*60 + ss), nil
}

// encodeTZif renders the zone as version 2 TZif data: an empty 32-bit block
// followed by the 64-bit block. Local time type 0 is the initial zone and
// type i+1 is observance i.
func encodeTZif(initial observance, observances []observance, txs []transition) []byte {
	var abbrev bytes.Buffer
	nameIndex := make(map[string]int)
	indexOf := func(name string) byte {
		if idx, ok := nameIndex[name]; ok {
			return byte(idx)
		}
		idx := abbrev.Len()
		if idx+len(name) >= 255 {
			return 0
		}
		nameIndex[name] = idx
		abbrev.WriteString(name)
		abbrev.WriteByte(0)
		return byte(idx)
	}

	types := append([]observance{initial}, observances...)
	var zones bytes.Buffer
	for _, t := range types {
		binary.Write(&zones, binary.BigEndian, int32(t.offsetTo))
		if t.dst {
			zones.WriteByte(1)
		} else {
			zones.WriteByte(0)
		}
		zones.WriteByte(indexOf(t.name))
	}

	header := func(buf *bytes.Buffer, counts [6]uint32) {
		buf.WriteString("TZif2")
		buf.Write(make([]byte, 15))
		for _, n := range counts {
			binary.Write(buf, binary.BigEndian, n)
		}
	}

	var out bytes.Buffer
	// isutcnt, isstdcnt, leapcnt, timecnt, typecnt, charcnt
	header(&out, [6]uint32{})
	header(&out, [6]uint32{0, 0, 0, uint32(len(txs)), uint32(len(types)), uint32(abbrev.Len())})
	for _, tx := range txs {
		binary.Write(&out, binary.BigEndian, tx.when)
	}
	for _, tx := range txs {
		out.WriteByte(byte(tx.obs + 1))
	}
	out.Write(zones.Bytes())
	out.Write(abbrev.Bytes())
	out.WriteString("\n\n")
	return out.Bytes()
}
