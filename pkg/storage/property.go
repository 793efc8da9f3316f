package storage

import (
	"fmt"
	"math"
	"time"
)

// PropertyValueType discriminates the tagged union PropertyValue carries.
type PropertyValueType uint8

const (
	PropertyNull PropertyValueType = iota
	PropertyBool
	PropertyInt
	PropertyDouble
	PropertyString
	PropertyList
	PropertyMap
	PropertyTemporal
)

// PropertyValue is the tagged union over {null, bool, int64, double,
// string, list, map, temporal} stored on vertices and edges (spec §3).
//
// pkg/temporal in the source pack only retrieved test files (no
// implementation), so the temporal variant here is grounded directly on
// spec §3 and implemented with time.Time rather than a bespoke tracker
// type.
type PropertyValue struct {
	typ  PropertyValueType
	b    bool
	i    int64
	d    float64
	s    string
	list []PropertyValue
	m    map[string]PropertyValue
	t    time.Time
}

func NullValue() PropertyValue                { return PropertyValue{typ: PropertyNull} }
func BoolValue(v bool) PropertyValue          { return PropertyValue{typ: PropertyBool, b: v} }
func IntValue(v int64) PropertyValue          { return PropertyValue{typ: PropertyInt, i: v} }
func DoubleValue(v float64) PropertyValue     { return PropertyValue{typ: PropertyDouble, d: v} }
func StringValue(v string) PropertyValue      { return PropertyValue{typ: PropertyString, s: v} }
func TemporalValue(v time.Time) PropertyValue { return PropertyValue{typ: PropertyTemporal, t: v} }

func ListValue(v []PropertyValue) PropertyValue {
	cp := make([]PropertyValue, len(v))
	copy(cp, v)
	return PropertyValue{typ: PropertyList, list: cp}
}

func MapValue(v map[string]PropertyValue) PropertyValue {
	cp := make(map[string]PropertyValue, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return PropertyValue{typ: PropertyMap, m: cp}
}

func (v PropertyValue) Type() PropertyValueType { return v.typ }
func (v PropertyValue) IsNull() bool            { return v.typ == PropertyNull }
func (v PropertyValue) Bool() bool              { return v.b }
func (v PropertyValue) Int() int64              { return v.i }
func (v PropertyValue) Double() float64         { return v.d }
func (v PropertyValue) Str() string             { return v.s }
func (v PropertyValue) Temporal() time.Time     { return v.t }

func (v PropertyValue) List() []PropertyValue {
	cp := make([]PropertyValue, len(v.list))
	copy(cp, v.list)
	return cp
}

func (v PropertyValue) Map() map[string]PropertyValue {
	cp := make(map[string]PropertyValue, len(v.m))
	for k, val := range v.m {
		cp[k] = val
	}
	return cp
}

// Equal implements value equality across the tagged union, with numeric
// int/double cross-comparison (1 == 1.0) as Cypher-family engines do.
func (v PropertyValue) Equal(o PropertyValue) bool {
	return Compare(v, o) == 0
}

// typeRank establishes the total order between distinct PropertyValueTypes
// used by Compare, the label+property index, and unique constraint
// ordering (spec §4.3/§4.4: "ordered lexicographically by property
// value"). Numbers are ranked together so Int and Double values compare
// by magnitude rather than by tag.
func typeRank(t PropertyValueType) int {
	switch t {
	case PropertyNull:
		return 0
	case PropertyBool:
		return 1
	case PropertyInt, PropertyDouble:
		return 2
	case PropertyString:
		return 3
	case PropertyList:
		return 4
	case PropertyMap:
		return 5
	case PropertyTemporal:
		return 6
	default:
		return 99
	}
}

// Compare defines the total order over PropertyValue used by indices and
// constraints: returns <0, 0, or >0 as a<b, a==b, a>b.
func Compare(a, b PropertyValue) int {
	ra, rb := typeRank(a.typ), typeRank(b.typ)
	if ra != rb {
		return ra - rb
	}
	switch a.typ {
	case PropertyNull:
		return 0
	case PropertyBool:
		return boolCompare(a.b, b.b)
	case PropertyInt, PropertyDouble:
		return numCompare(a.asFloat(), b.asFloat())
	case PropertyString:
		return stringCompare(a.s, b.s)
	case PropertyTemporal:
		return numCompare(float64(a.t.UnixNano()), float64(b.t.UnixNano()))
	case PropertyList:
		return listCompare(a.list, b.list)
	case PropertyMap:
		return mapCompare(a.m, b.m)
	default:
		return 0
	}
}

func (v PropertyValue) asFloat() float64 {
	if v.typ == PropertyInt {
		return float64(v.i)
	}
	return v.d
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func numCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func listCompare(a, b []PropertyValue) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func mapCompare(a, b map[string]PropertyValue) int {
	// Maps have no natural order; compare by size then by sorted-key
	// fingerprint so the comparator remains a valid total order (required
	// for the index/constraint skiplists, which must be able to place any
	// two values).
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return stringCompare(fmt.Sprint(a), fmt.Sprint(b))
}

// IsNaN reports whether a double-typed value holds NaN. Compare does not
// treat NaN specially: both < and > are false for it, so Compare returns 0
// and Equal reports true when NaN is compared with itself or with any
// other number.
func (v PropertyValue) IsNaN() bool {
	return v.typ == PropertyDouble && math.IsNaN(v.d)
}
