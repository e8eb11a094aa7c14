// Package history implements the undo/redo command stack for a plot
// editing session. Edits are expressed as replayable Commands (tagged
// variants carrying before/after object states, never closures) applied
// to a shared *plot.Project by a small interpreter.
//
// Rapid commands of the same type over the same object set coalesce into
// a single undo entry, the stack depth is bounded with oldest-first
// eviction, and a replay guard rejects commands issued from change
// listeners while an undo or redo is in flight.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stagelight/plotsync/internal/plot"
)

// Stack errors.
var (
	// ErrReplaying is returned by Execute when called while an undo or
	// redo is applying states, e.g. from a change listener.
	ErrReplaying = errors.New("command rejected: undo/redo replay in progress")

	// ErrNothingToUndo is returned by Undo on an empty undo stack.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo on an empty redo stack.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Defaults for Config zero values.
const (
	DefaultMaxDepth       = 100
	DefaultCoalesceWindow = 200 * time.Millisecond
)

// Event describes a stack change delivered to listeners.
type Event struct {
	Op          string // "execute", "undo", "redo", "clear"
	Description string
	CanUndo     bool
	CanRedo     bool
}

// Config carries Stack construction parameters. Zero values select the
// defaults above.
type Config struct {
	MaxDepth       int
	CoalesceWindow time.Duration
	Logger         *slog.Logger
}

// Stack is the undo/redo history for one project. All methods are safe
// for concurrent use. Listeners are invoked synchronously, in
// subscription order, while the triggering operation is still the
// current one.
type Stack struct {
	mu        sync.Mutex
	project   *plot.Project
	undo      []*Command
	redo      []*Command
	listeners []func(Event)

	maxDepth int
	window   time.Duration
	logger   *slog.Logger

	// lastMergeAt anchors the coalescing window. It refreshes on every
	// push and merge, and resets on undo/redo/clear so that a command
	// never merges across a history traversal.
	lastMergeAt int64

	replaying atomic.Bool

	nowFunc func() int64
}

// New returns a Stack operating on the given project.
func New(project *plot.Project, cfg Config) *Stack {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Stack{
		project:  project,
		maxDepth: cfg.MaxDepth,
		window:   cfg.CoalesceWindow,
		logger:   cfg.Logger,
		nowFunc:  plot.NowNano,
	}
}

// Subscribe registers a listener for stack change events.
func (s *Stack) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, fn)
}

// Execute validates and applies cmd, pushes it onto the undo stack
// (possibly coalescing into the previous entry), and clears the redo
// stack. A validation or precondition failure applies nothing and
// records nothing.
func (s *Stack) Execute(cmd *Command) error {
	if s.replaying.Load() {
		return ErrReplaying
	}

	s.mu.Lock()

	if err := cmd.validate(); err != nil {
		s.mu.Unlock()

		return fmt.Errorf("invalid command: %w", err)
	}

	if err := s.checkPreconditions(cmd, forward); err != nil {
		s.mu.Unlock()

		return fmt.Errorf("executing %q: %w", cmd.Description, err)
	}

	s.apply(cmd, forward)

	now := s.nowFunc()
	merged := s.tryCoalesce(cmd, now)

	if !merged {
		s.undo = append(s.undo, cmd)
		if len(s.undo) > s.maxDepth {
			// Drop the oldest entry; it can no longer be undone.
			s.undo = append(s.undo[:0], s.undo[1:]...)
		}
	}

	s.redo = nil
	s.lastMergeAt = now

	s.logger.Debug("command executed",
		slog.String("type", string(cmd.Type)),
		slog.String("description", cmd.Description),
		slog.Bool("coalesced", merged),
		slog.Int("undo_depth", len(s.undo)),
	)

	ev := s.eventLocked("execute", cmd.Description)
	fns := s.listenersLocked()
	s.mu.Unlock()

	notify(fns, ev)

	return nil
}

// Undo reverses the most recent command. The entry moves to the redo
// stack even when applying its before states fails; the error is
// returned either way.
func (s *Stack) Undo() (string, error) {
	return s.traverse(
		"undo",
		&s.undo, &s.redo,
		backward,
		ErrNothingToUndo,
	)
}

// Redo re-applies the most recently undone command. The entry moves back
// to the undo stack even when applying fails.
func (s *Stack) Redo() (string, error) {
	return s.traverse(
		"redo",
		&s.redo, &s.undo,
		forward,
		ErrNothingToRedo,
	)
}

// traverse pops from one stack, applies the command in the given
// direction, and pushes onto the other stack regardless of apply
// outcome. The coalescing anchor resets so later commands never merge
// across this traversal.
func (s *Stack) traverse(op string, from, to *[]*Command, dir direction, emptyErr error) (string, error) {
	s.replaying.Store(true)
	defer s.replaying.Store(false)

	s.mu.Lock()

	if len(*from) == 0 {
		s.mu.Unlock()

		return "", emptyErr
	}

	cmd := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]

	applyErr := s.checkPreconditions(cmd, dir)
	if applyErr == nil {
		s.apply(cmd, dir)
	}

	// Consumed either way.
	*to = append(*to, cmd)
	s.lastMergeAt = 0

	if applyErr != nil {
		s.logger.Warn("history traversal failed, entry consumed",
			slog.String("op", op),
			slog.String("description", cmd.Description),
			slog.String("error", applyErr.Error()),
		)
	}

	ev := s.eventLocked(op, cmd.Description)
	fns := s.listenersLocked()
	s.mu.Unlock()

	notify(fns, ev)

	if applyErr != nil {
		return cmd.Description, fmt.Errorf("%s %q: %w", op, cmd.Description, applyErr)
	}

	return cmd.Description, nil
}

// direction selects which side of each StateChange the interpreter
// applies: forward applies After (execute/redo), backward applies
// Before (undo).
type direction int

const (
	forward direction = iota
	backward
)

// target returns the state to apply for one change in this direction.
func (d direction) target(sc *StateChange) plot.Object {
	if d == forward {
		return sc.After
	}

	return sc.Before
}

// checkPreconditions verifies every change can apply in the given
// direction before any of them does: an overwrite requires the object to
// exist, a creation requires it absent, a removal requires it present.
// Checking up front keeps a failing command from half-applying.
func (s *Stack) checkPreconditions(cmd *Command, dir direction) error {
	for i := range cmd.Changes {
		sc := &cmd.Changes[i]
		existing := s.project.Get(sc.Kind, sc.ID)
		want := dir.target(sc)

		switch {
		case want == nil && existing == nil:
			return fmt.Errorf("cannot remove %s %s: not in project", sc.Kind, sc.ID)
		case want != nil && oppositeAbsent(sc, dir) && existing != nil:
			return fmt.Errorf("cannot recreate %s %s: already in project", sc.Kind, sc.ID)
		case want != nil && !oppositeAbsent(sc, dir) && existing == nil:
			return fmt.Errorf("cannot overwrite %s %s: not in project", sc.Kind, sc.ID)
		}
	}

	return nil
}

// oppositeAbsent reports whether the state on the opposite side of the
// direction is nil, i.e. the change creates the object in this direction.
func oppositeAbsent(sc *StateChange, dir direction) bool {
	if dir == forward {
		return sc.Before == nil
	}

	return sc.After == nil
}

// apply writes each change's target state into the project. States are
// cloned on the way in so stack entries never alias live objects.
func (s *Stack) apply(cmd *Command, dir direction) {
	for i := range cmd.Changes {
		sc := &cmd.Changes[i]

		if target := dir.target(sc); target != nil {
			s.project.Put(target.Clone())
		} else {
			s.project.Remove(sc.Kind, sc.ID)
		}
	}

	s.project.UpdatedAt = s.nowFunc()
}

// tryCoalesce merges cmd into the top undo entry when type, object set,
// and timing allow. The merged entry keeps the original before states
// (undo returns to the state before the first command of the burst) and
// adopts the newest after states.
func (s *Stack) tryCoalesce(cmd *Command, now int64) bool {
	if !cmd.Type.coalescable() || len(s.undo) == 0 || len(s.redo) > 0 {
		return false
	}

	if s.lastMergeAt == 0 || now-s.lastMergeAt > s.window.Nanoseconds() {
		return false
	}

	top := s.undo[len(s.undo)-1]
	if top.Type != cmd.Type || top.idKey() != cmd.idKey() {
		return false
	}

	byID := make(map[string]*StateChange, len(cmd.Changes))
	for i := range cmd.Changes {
		sc := &cmd.Changes[i]
		byID[string(sc.Kind)+"/"+sc.ID] = sc
	}

	for i := range top.Changes {
		tc := &top.Changes[i]
		if sc, ok := byID[string(tc.Kind)+"/"+tc.ID]; ok {
			tc.After = sc.After
		}
	}

	top.Description = cmd.Description

	return true
}

// CanUndo reports whether the undo stack is non-empty.
func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.redo) > 0
}

// UndoDescription returns the description of the command Undo would
// reverse, or "" when there is none.
func (s *Stack) UndoDescription() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.undo) == 0 {
		return ""
	}

	return s.undo[len(s.undo)-1].Description
}

// RedoDescription returns the description of the command Redo would
// re-apply, or "" when there is none.
func (s *Stack) RedoDescription() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redo) == 0 {
		return ""
	}

	return s.redo[len(s.redo)-1].Description
}

// Depths returns the current undo and redo stack depths.
func (s *Stack) Depths() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.undo), len(s.redo)
}

// Clear drops both stacks, e.g. after loading a different project.
func (s *Stack) Clear() {
	s.mu.Lock()

	s.undo = nil
	s.redo = nil
	s.lastMergeAt = 0

	ev := s.eventLocked("clear", "")
	fns := s.listenersLocked()
	s.mu.Unlock()

	notify(fns, ev)
}

// eventLocked builds an Event snapshot. Caller holds s.mu.
func (s *Stack) eventLocked(op, description string) Event {
	return Event{
		Op:          op,
		Description: description,
		CanUndo:     len(s.undo) > 0,
		CanRedo:     len(s.redo) > 0,
	}
}

// listenersLocked copies the listener slice. Caller holds s.mu.
func (s *Stack) listenersLocked() []func(Event) {
	return append([]func(Event){}, s.listeners...)
}

// notify delivers ev to each listener outside the stack lock.
func notify(fns []func(Event), ev Event) {
	for _, fn := range fns {
		fn(ev)
	}
}
