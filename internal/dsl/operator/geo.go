package operator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/mmcloughlin/geohash"
	"github.com/syntrixbase/livequery/pkg/model"
)

// EarthRadius is the sphere radius, in meters, used for great-circle distances.
const EarthRadius = 6378137.0

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is a normalised box: Top >= Bottom. Left > Right denotes a box
// crossing the antimeridian.
type BoundingBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// Distance is the geoDistance payload: documents within Meters of the center.
type Distance struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Meters float64 `json:"meters"`
}

// DistanceRange is the geoDistanceRange payload, bounds inclusive.
type DistanceRange struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// NewDistanceRange builds a range, swapping the bounds when from > to.
// Reversed bounds are accepted rather than rejected for compatibility with
// existing subscriptions.
func NewDistanceRange(center Point, from, to float64) DistanceRange {
	if from > to {
		from, to = to, from
	}
	return DistanceRange{Lat: center.Lat, Lon: center.Lon, From: from, To: to}
}

// Polygon is a closed ring; the last point connects back to the first.
type Polygon struct {
	Points []Point `json:"points"`
}

// ParsePoint accepts {lat, lon} objects, [lon, lat] arrays, "lat,lon"
// strings and geohashes (decoded to the cell center).
func ParsePoint(v interface{}) (Point, error) {
	var p Point
	switch t := v.(type) {
	case map[string]interface{}:
		lat, okLat := toFloat(t["lat"])
		lon, okLon := toFloat(t["lon"])
		if !okLat || !okLon || len(t) != 2 {
			return p, fmt.Errorf("%w: expected {lat, lon}", ErrInvalidGeoCoordinates)
		}
		p = Point{Lat: lat, Lon: lon}
	case model.Document:
		return ParsePoint(map[string]interface{}(t))
	case []interface{}:
		if len(t) != 2 {
			return p, fmt.Errorf("%w: expected [lon, lat]", ErrInvalidGeoCoordinates)
		}
		lon, okLon := toFloat(t[0])
		lat, okLat := toFloat(t[1])
		if !okLat || !okLon {
			return p, fmt.Errorf("%w: expected [lon, lat]", ErrInvalidGeoCoordinates)
		}
		p = Point{Lat: lat, Lon: lon}
	case string:
		if latStr, lonStr, ok := strings.Cut(t, ","); ok {
			lat, errLat := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
			lon, errLon := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
			if errLat != nil || errLon != nil {
				return p, fmt.Errorf("%w: expected \"lat,lon\", got %q", ErrInvalidGeoCoordinates, t)
			}
			p = Point{Lat: lat, Lon: lon}
		} else {
			if !isGeohash(t) {
				return p, fmt.Errorf("%w: %q is neither \"lat,lon\" nor a geohash", ErrInvalidGeoCoordinates, t)
			}
			lat, lon := geohash.DecodeCenter(t)
			p = Point{Lat: lat, Lon: lon}
		}
	default:
		return p, fmt.Errorf("%w: unsupported point type %T", ErrInvalidGeoCoordinates, v)
	}

	if err := p.validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

func (p Point) validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: (%v, %v) out of range", ErrInvalidGeoCoordinates, p.Lat, p.Lon)
	}
	return nil
}

func isGeohash(s string) bool {
	if s == "" || len(s) > 12 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(geohashAlphabet, c) {
			return false
		}
	}
	return true
}

// ParseBoundingBox accepts {top, left, bottom, right}, {topLeft, bottomRight}
// (or top_left/bottom_right) with points in any ParsePoint encoding, and a
// geohash string describing a whole cell.
func ParseBoundingBox(v interface{}) (BoundingBox, error) {
	var box BoundingBox
	switch t := v.(type) {
	case string:
		if !isGeohash(t) {
			return box, fmt.Errorf("%w: %q is not a geohash", ErrInvalidGeoCoordinates, t)
		}
		cell := geohash.BoundingBox(t)
		box = BoundingBox{Top: cell.MaxLat, Left: cell.MinLng, Bottom: cell.MinLat, Right: cell.MaxLng}
	case model.Document:
		return ParseBoundingBox(map[string]interface{}(t))
	case map[string]interface{}:
		var err error
		if box, err = parseBoxObject(t); err != nil {
			return box, err
		}
	default:
		return box, fmt.Errorf("%w: unsupported bounding box type %T", ErrInvalidGeoCoordinates, v)
	}

	if err := (Point{Lat: box.Top, Lon: box.Left}).validate(); err != nil {
		return BoundingBox{}, err
	}
	if err := (Point{Lat: box.Bottom, Lon: box.Right}).validate(); err != nil {
		return BoundingBox{}, err
	}
	if box.Top < box.Bottom {
		return BoundingBox{}, fmt.Errorf("%w: top (%v) is below bottom (%v)", ErrInvalidGeoCoordinates, box.Top, box.Bottom)
	}
	return box, nil
}

func parseBoxObject(obj map[string]interface{}) (BoundingBox, error) {
	if _, ok := obj["top"]; ok {
		top, ok1 := toFloat(obj["top"])
		left, ok2 := toFloat(obj["left"])
		bottom, ok3 := toFloat(obj["bottom"])
		right, ok4 := toFloat(obj["right"])
		if !ok1 || !ok2 || !ok3 || !ok4 || len(obj) != 4 {
			return BoundingBox{}, fmt.Errorf("%w: expected numeric top, left, bottom and right", ErrInvalidGeoCoordinates)
		}
		return BoundingBox{Top: top, Left: left, Bottom: bottom, Right: right}, nil
	}

	tl, okTL := firstOf(obj, "topLeft", "top_left")
	br, okBR := firstOf(obj, "bottomRight", "bottom_right")
	if !okTL || !okBR || len(obj) != 2 {
		return BoundingBox{}, fmt.Errorf("%w: expected {top, left, bottom, right} or {topLeft, bottomRight}", ErrInvalidGeoCoordinates)
	}
	topLeft, err := ParsePoint(tl)
	if err != nil {
		return BoundingBox{}, err
	}
	bottomRight, err := ParsePoint(br)
	if err != nil {
		return BoundingBox{}, err
	}
	return BoundingBox{Top: topLeft.Lat, Left: topLeft.Lon, Bottom: bottomRight.Lat, Right: bottomRight.Lon}, nil
}

func firstOf(obj map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// ParsePolygon accepts an array of at least three points.
func ParsePolygon(v interface{}) (Polygon, error) {
	raw, ok := v.([]interface{})
	if !ok || len(raw) < 3 {
		return Polygon{}, fmt.Errorf("%w: a polygon needs at least 3 points", ErrInvalidGeoCoordinates)
	}
	points := make([]Point, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePoint(r)
		if err != nil {
			return Polygon{}, err
		}
		points = append(points, p)
	}
	return Polygon{Points: points}, nil
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p Point) bool {
	if p.Lat < b.Bottom || p.Lat > b.Top {
		return false
	}
	if b.Left <= b.Right {
		return p.Lon >= b.Left && p.Lon <= b.Right
	}
	return p.Lon >= b.Left || p.Lon <= b.Right
}

// Contains reports whether p lies inside the polygon. Points on a vertex or
// an edge are inside.
func (poly Polygon) Contains(p Point) bool {
	n := len(poly.Points)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly.Points[i], poly.Points[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p Point) bool {
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > 1e-12 {
		return false
	}
	return p.Lon >= math.Min(a.Lon, b.Lon) && p.Lon <= math.Max(a.Lon, b.Lon) &&
		p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat)
}

// GreatCircle returns the distance between a and b in meters.
func GreatCircle(a, b Point) float64 {
	angle := s2.LatLngFromDegrees(a.Lat, a.Lon).Distance(s2.LatLngFromDegrees(b.Lat, b.Lon))
	return angle.Radians() * EarthRadius
}

// documentPoint resolves field to a {lat, lon} object with numeric members.
func documentPoint(field string, doc map[string]interface{}) (Point, bool) {
	v, ok := model.Lookup(doc, field)
	if !ok {
		return Point{}, false
	}
	obj, ok := model.AsObject(v)
	if !ok {
		return Point{}, false
	}
	lat, okLat := toFloat(obj["lat"])
	lon, okLon := toFloat(obj["lon"])
	if !okLat || !okLon {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}

func geoBoundingBox(field string, box BoundingBox, doc map[string]interface{}) bool {
	p, ok := documentPoint(field, doc)
	return ok && box.Contains(p)
}

func geoDistance(field string, d Distance, doc map[string]interface{}) bool {
	p, ok := documentPoint(field, doc)
	return ok && GreatCircle(Point{Lat: d.Lat, Lon: d.Lon}, p) <= d.Meters
}

func geoDistanceRange(field string, r DistanceRange, doc map[string]interface{}) bool {
	p, ok := documentPoint(field, doc)
	if !ok {
		return false
	}
	dist := GreatCircle(Point{Lat: r.Lat, Lon: r.Lon}, p)
	return dist >= r.From && dist <= r.To
}

func geoPolygon(field string, poly Polygon, doc map[string]interface{}) bool {
	p, ok := documentPoint(field, doc)
	return ok && poly.Contains(p)
}
