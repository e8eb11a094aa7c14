package plot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/unicode/norm"
)

// Exchange format identification for exported plot files.
const (
	FormatName    = "stagelight-plot"
	FormatVersion = 1
)

// Envelope wraps an exported project with format identification so that
// import can reject foreign or future files with a precise reason.
type Envelope struct {
	Format        string   `json:"format"`
	FormatVersion int      `json:"format_version"`
	ExportedAt    int64    `json:"exported_at"`
	Project       *Project `json:"project"`
}

// DecodeError describes why an import payload was rejected. Import never
// panics on malformed input; it returns one of these.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid plot file: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("invalid plot file: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode writes p as an indented exchange-format document.
func Encode(w io.Writer, p *Project) error {
	env := Envelope{
		Format:        FormatName,
		FormatVersion: FormatVersion,
		ExportedAt:    NowNano(),
		Project:       p,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encoding plot file: %w", err)
	}

	return nil
}

// Decode parses and validates an exchange-format document. On any
// malformed input it returns (nil, *DecodeError). Names are
// NFC-normalized so that plots exported on different platforms compare
// equal.
func Decode(r io.Reader) (*Project, error) {
	var env Envelope

	dec := json.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	if env.Format != FormatName {
		return nil, &DecodeError{Reason: fmt.Sprintf("unrecognized format %q", env.Format)}
	}

	if env.FormatVersion > FormatVersion || env.FormatVersion < 1 {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported format version %d", env.FormatVersion)}
	}

	if env.Project == nil {
		return nil, &DecodeError{Reason: "missing project"}
	}

	p := env.Project
	p.ensureMaps()
	normalizeNames(p)

	if err := p.Validate(); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, de
		}

		return nil, &DecodeError{Reason: "validation failed", Err: err}
	}

	return p, nil
}

// Validate checks structural integrity: non-empty ids, map keys matching
// object ids, and instrument position references resolving.
func (p *Project) Validate() error {
	if p.ID == "" {
		return &DecodeError{Reason: "project id is empty"}
	}

	if p.Version < 0 {
		return &DecodeError{Reason: fmt.Sprintf("negative version %d", p.Version)}
	}

	for _, kind := range Kinds() {
		for _, obj := range p.Objects(kind) {
			if obj.ObjectID() == "" {
				return &DecodeError{Reason: fmt.Sprintf("%s with empty id", kind)}
			}
		}
	}

	if err := p.validateKeys(); err != nil {
		return err
	}

	for id, inst := range p.Instruments {
		if inst.PositionID == "" {
			continue
		}

		if _, ok := p.Positions[inst.PositionID]; !ok {
			return &DecodeError{
				Reason: fmt.Sprintf("instrument %s references missing position %s", id, inst.PositionID),
			}
		}
	}

	return nil
}

// validateKeys rejects collections whose map key disagrees with the
// object's own id field.
func (p *Project) validateKeys() error {
	for _, kind := range Kinds() {
		for _, obj := range p.Objects(kind) {
			if p.Get(kind, obj.ObjectID()) != obj {
				return &DecodeError{
					Reason: fmt.Sprintf("%s keyed under a different id than %q", kind, obj.ObjectID()),
				}
			}
		}
	}

	return nil
}

// normalizeNames applies NFC normalization to user-visible names.
func normalizeNames(p *Project) {
	p.Name = norm.NFC.String(p.Name)
	p.Venue.Name = norm.NFC.String(p.Venue.Name)

	for _, pos := range p.Positions {
		pos.Name = norm.NFC.String(pos.Name)
	}

	for _, sp := range p.SetPieces {
		sp.Name = norm.NFC.String(sp.Name)
	}

	for _, a := range p.Annotations {
		a.Text = norm.NFC.String(a.Text)
	}
}
