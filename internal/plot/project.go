package plot

// Project is a complete plot snapshot: identity, the server-assigned
// version, venue configuration, and every object collection. Version 0
// means the project has never been accepted by a server.
type Project struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Version     int64                  `json:"version"`
	Venue       Venue                  `json:"venue"`
	Shapes      map[string]*Shape      `json:"shapes"`
	Positions   map[string]*Position   `json:"positions"`
	Instruments map[string]*Instrument `json:"instruments"`
	SetPieces   map[string]*SetPiece   `json:"set_pieces"`
	Annotations map[string]*Annotation `json:"annotations"`
	CreatedAt   int64                  `json:"created_at"`
	UpdatedAt   int64                  `json:"updated_at"`
}

// NewProject returns an empty project with initialized collections.
func NewProject(id, name string) *Project {
	now := NowNano()

	return &Project{
		ID:          id,
		Name:        name,
		Venue:       Venue{Units: "m", GridSpacing: 0.5},
		Shapes:      map[string]*Shape{},
		Positions:   map[string]*Position{},
		Instruments: map[string]*Instrument{},
		SetPieces:   map[string]*SetPiece{},
		Annotations: map[string]*Annotation{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ensureMaps initializes any nil collection map. Decoded projects may
// omit empty collections entirely.
func (p *Project) ensureMaps() {
	if p.Shapes == nil {
		p.Shapes = map[string]*Shape{}
	}

	if p.Positions == nil {
		p.Positions = map[string]*Position{}
	}

	if p.Instruments == nil {
		p.Instruments = map[string]*Instrument{}
	}

	if p.SetPieces == nil {
		p.SetPieces = map[string]*SetPiece{}
	}

	if p.Annotations == nil {
		p.Annotations = map[string]*Annotation{}
	}
}

// Get returns the object with the given kind and id, or nil when absent.
func (p *Project) Get(kind Kind, id string) Object {
	switch kind {
	case KindShape:
		if o, ok := p.Shapes[id]; ok {
			return o
		}
	case KindPosition:
		if o, ok := p.Positions[id]; ok {
			return o
		}
	case KindInstrument:
		if o, ok := p.Instruments[id]; ok {
			return o
		}
	case KindSetPiece:
		if o, ok := p.SetPieces[id]; ok {
			return o
		}
	case KindAnnotation:
		if o, ok := p.Annotations[id]; ok {
			return o
		}
	}

	return nil
}

// Put inserts or replaces an object in its collection, keyed by its own id.
func (p *Project) Put(obj Object) {
	p.ensureMaps()

	switch o := obj.(type) {
	case *Shape:
		p.Shapes[o.ID] = o
	case *Position:
		p.Positions[o.ID] = o
	case *Instrument:
		p.Instruments[o.ID] = o
	case *SetPiece:
		p.SetPieces[o.ID] = o
	case *Annotation:
		p.Annotations[o.ID] = o
	}
}

// Remove deletes the object with the given kind and id. Removing an
// absent object is a no-op.
func (p *Project) Remove(kind Kind, id string) {
	switch kind {
	case KindShape:
		delete(p.Shapes, id)
	case KindPosition:
		delete(p.Positions, id)
	case KindInstrument:
		delete(p.Instruments, id)
	case KindSetPiece:
		delete(p.SetPieces, id)
	case KindAnnotation:
		delete(p.Annotations, id)
	}
}

// Objects returns every object of the given kind. Order is unspecified.
func (p *Project) Objects(kind Kind) []Object {
	var out []Object

	switch kind {
	case KindShape:
		for _, o := range p.Shapes {
			out = append(out, o)
		}
	case KindPosition:
		for _, o := range p.Positions {
			out = append(out, o)
		}
	case KindInstrument:
		for _, o := range p.Instruments {
			out = append(out, o)
		}
	case KindSetPiece:
		for _, o := range p.SetPieces {
			out = append(out, o)
		}
	case KindAnnotation:
		for _, o := range p.Annotations {
			out = append(out, o)
		}
	}

	return out
}

// ObjectCount returns the total number of objects across all collections.
func (p *Project) ObjectCount() int {
	return len(p.Shapes) + len(p.Positions) + len(p.Instruments) +
		len(p.SetPieces) + len(p.Annotations)
}

// Clone returns a deep structural copy sharing no mutable state with p.
func (p *Project) Clone() *Project {
	dup := *p

	dup.Shapes = make(map[string]*Shape, len(p.Shapes))
	for id, o := range p.Shapes {
		dup.Shapes[id] = o.Clone().(*Shape)
	}

	dup.Positions = make(map[string]*Position, len(p.Positions))
	for id, o := range p.Positions {
		dup.Positions[id] = o.Clone().(*Position)
	}

	dup.Instruments = make(map[string]*Instrument, len(p.Instruments))
	for id, o := range p.Instruments {
		dup.Instruments[id] = o.Clone().(*Instrument)
	}

	dup.SetPieces = make(map[string]*SetPiece, len(p.SetPieces))
	for id, o := range p.SetPieces {
		dup.SetPieces[id] = o.Clone().(*SetPiece)
	}

	dup.Annotations = make(map[string]*Annotation, len(p.Annotations))
	for id, o := range p.Annotations {
		dup.Annotations[id] = o.Clone().(*Annotation)
	}

	return &dup
}
