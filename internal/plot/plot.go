// Package plot defines the lighting-plot domain model: the project
// snapshot, its object collections (shapes, hanging positions,
// instruments, set pieces, annotations), deep cloning, structural diff,
// and the JSON exchange format.
//
// A Project is a plain value tree. Nothing in this package performs I/O
// or talks to a server; persistence and sync live in internal/sync.
// All timestamps are int64 Unix nanoseconds.
package plot

import "time"

// Kind identifies an object collection within a project.
type Kind string

// Object kinds, one per collection.
const (
	KindShape      Kind = "shape"
	KindPosition   Kind = "position"
	KindInstrument Kind = "instrument"
	KindSetPiece   Kind = "set_piece"
	KindAnnotation Kind = "annotation"
)

// Kinds lists every collection kind in stable order.
func Kinds() []Kind {
	return []Kind{KindShape, KindPosition, KindInstrument, KindSetPiece, KindAnnotation}
}

// Object is implemented by every plottable element. Clone must return a
// deep copy that shares no mutable state with the receiver.
type Object interface {
	ObjectID() string
	Kind() Kind
	Clone() Object
}

// Point is a 2D coordinate in venue units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Venue describes the stage the plot is drawn against.
type Venue struct {
	Name        string  `json:"name"`
	Width       float64 `json:"width"`
	Depth       float64 `json:"depth"`
	Units       string  `json:"units"` // "m" or "ft"
	GridSpacing float64 `json:"grid_spacing"`
}

// Shape is a free drawing element: line, rectangle, ellipse, or polygon.
type Shape struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Points      []Point `json:"points"`
	Closed      bool    `json:"closed"`
	StrokeWidth float64 `json:"stroke_width"`
	Color       string  `json:"color"`
	Layer       string  `json:"layer"`
	Rotation    float64 `json:"rotation"`
}

func (s *Shape) ObjectID() string { return s.ID }
func (s *Shape) Kind() Kind       { return KindShape }

func (s *Shape) Clone() Object {
	dup := *s
	dup.Points = append([]Point(nil), s.Points...)

	return &dup
}

// Position is a hanging position: a batten, boom, ladder, or truss that
// instruments hang from.
type Position struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Origin     Point   `json:"origin"`
	Length     float64 `json:"length"`
	Rotation   float64 `json:"rotation"`
	TrimHeight float64 `json:"trim_height"`
}

func (p *Position) ObjectID() string { return p.ID }
func (p *Position) Kind() Kind       { return KindPosition }

func (p *Position) Clone() Object {
	dup := *p

	return &dup
}

// Instrument is a lighting fixture hung on a position.
type Instrument struct {
	ID         string  `json:"id"`
	PositionID string  `json:"position_id"`
	Unit       int     `json:"unit"`
	Type       string  `json:"type"`
	Channel    int     `json:"channel"`
	Dimmer     int     `json:"dimmer"`
	Color      string  `json:"color"` // gel number, e.g. "R80"
	Gobo       string  `json:"gobo,omitempty"`
	Purpose    string  `json:"purpose"`
	Offset     float64 `json:"offset"` // distance along the position from its origin
	Rotation   float64 `json:"rotation"`
}

func (i *Instrument) ObjectID() string { return i.ID }
func (i *Instrument) Kind() Kind       { return KindInstrument }

func (i *Instrument) Clone() Object {
	dup := *i

	return &dup
}

// SetPiece is a scenic element drawn for spatial reference.
type SetPiece struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Outline  []Point `json:"outline"`
	Fill     string  `json:"fill"`
	Layer    string  `json:"layer"`
	Rotation float64 `json:"rotation"`
	Height   float64 `json:"height"`
}

func (s *SetPiece) ObjectID() string { return s.ID }
func (s *SetPiece) Kind() Kind       { return KindSetPiece }

func (s *SetPiece) Clone() Object {
	dup := *s
	dup.Outline = append([]Point(nil), s.Outline...)

	return &dup
}

// Annotation is a free-floating text note on the plot.
type Annotation struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	At       Point   `json:"at"`
	FontSize float64 `json:"font_size"`
	Color    string  `json:"color"`
}

func (a *Annotation) ObjectID() string { return a.ID }
func (a *Annotation) Kind() Kind       { return KindAnnotation }

func (a *Annotation) Clone() Object {
	dup := *a

	return &dup
}

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}
