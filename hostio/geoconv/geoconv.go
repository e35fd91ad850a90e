// Package geoconv converts between the core's fixed-point GeoCoord and
// the coordinate systems a human-facing display needs: validated
// decimal degrees (via golang/geo/s2, as core/geo.go already leans on
// for distance), UTM/MGRS grid coordinates (via
// github.com/tzneal/coordconv, exactly the library and call shape
// cmd/samoyed-ll2utm used), and a Maidenhead grid-square locator
// (hand-rolled, the same way the teacher's own decode_aprs.go/
// tt_text.go never had a library for this and rolled it by hand
// either).
package geoconv

import (
	"fmt"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"

	"github.com/n7node/lnk22/core"
)

// ToGeoCoord converts a WGS84 fix in decimal degrees to core's
// fixed-point representation, rejecting anything s2 would not accept
// as a legal LatLng (out-of-range latitude, NaN, etc.).
func ToGeoCoord(latDeg, lonDeg float64) (core.GeoCoord, error) {
	ll := s2.LatLngFromDegrees(latDeg, lonDeg)
	if !ll.IsValid() {
		return core.GeoCoord{}, fmt.Errorf("geoconv: invalid fix lat=%.6f lon=%.6f", latDeg, lonDeg)
	}
	return core.GeoCoord{
		LatE7: int32(latDeg * 1e7),
		LonE7: int32(lonDeg * 1e7),
	}, nil
}

// FromGeoCoord recovers decimal degrees from a wire-format coordinate,
// for display or logging.
func FromGeoCoord(c core.GeoCoord) (latDeg, lonDeg float64) {
	return float64(c.LatE7) / 1e7, float64(c.LonE7) / 1e7
}

func (c latLngOf) toS2() s2.LatLng {
	return s2.LatLng{Lat: s1.Angle(c.lat), Lng: s1.Angle(c.lon)}
}

type latLngOf struct{ lat, lon float64 }

func radians(deg float64) float64 { return deg * (3.14159265358979323846 / 180) }

// UTMString renders a GeoCoord as a human-readable UTM coordinate
// string, e.g. "17T N 630084E 4833438N", for the Naming/History
// subsystem's location annotations.
func UTMString(c core.GeoCoord) (string, error) {
	latDeg, lonDeg := FromGeoCoord(c)
	ll := latLngOf{radians(latDeg), radians(lonDeg)}.toS2()

	utm, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(ll, 0)
	if err != nil {
		return "", fmt.Errorf("geoconv: converting to UTM: %w", err)
	}
	return fmt.Sprintf("%dT %c %.0fE %.0fN", utm.Zone, hemisphereRune(utm.Hemisphere), utm.Easting, utm.Northing), nil
}

// MGRSString renders a GeoCoord as an MGRS grid string at the given
// precision (1-5, matching coordconv's digit-pair precision levels).
func MGRSString(c core.GeoCoord, precision int) (string, error) {
	latDeg, lonDeg := FromGeoCoord(c)
	ll := latLngOf{radians(latDeg), radians(lonDeg)}.toS2()

	mgrs, err := coordconv.DefaultMGRSConverter.ConvertFromGeodetic(ll, precision)
	if err != nil {
		return "", fmt.Errorf("geoconv: converting to MGRS: %w", err)
	}
	return fmt.Sprintf("%s", mgrs), nil
}

func hemisphereRune(h coordconv.Hemisphere) rune {
	switch h {
	case coordconv.HemisphereNorth:
		return 'N'
	case coordconv.HemisphereSouth:
		return 'S'
	default:
		return '?'
	}
}

// maidenheadUpper/maidenheadDigits are the alphabet/digit ranges a
// 6-character Maidenhead locator packs into, same field widths
// decode_aprs.go's grid-square handling assumes.
const maidenheadUpper = "ABCDEFGHIJKLMNOPQRSTUVWX"

// Maidenhead renders a GeoCoord as a 6-character Maidenhead grid
// locator. No pack library does this conversion (coordconv only knows
// UTM/MGRS), so this stays hand-rolled, the same position the teacher
// itself was in.
func Maidenhead(c core.GeoCoord) string {
	latDeg, lonDeg := FromGeoCoord(c)
	lon := lonDeg + 180
	lat := latDeg + 90

	fieldLon := int(lon / 20)
	fieldLat := int(lat / 10)
	lon -= float64(fieldLon) * 20
	lat -= float64(fieldLat) * 10

	squareLon := int(lon / 2)
	squareLat := int(lat)
	lon -= float64(squareLon) * 2
	lat -= float64(squareLat)

	subLon := int(lon / (2.0 / 24.0))
	subLat := int(lat / (1.0 / 24.0))

	return fmt.Sprintf("%c%c%d%d%c%c",
		maidenheadUpper[fieldLon], maidenheadUpper[fieldLat],
		squareLon, squareLat,
		byte('a'+subLon), byte('a'+subLat))
}
