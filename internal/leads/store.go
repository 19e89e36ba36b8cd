// Package leads persists sales leads, their lifecycle state and notes, and
// keeps the global and per-status ordering indices in step.
package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/leadscan/internal/dedup"
	"horse.fit/leadscan/internal/kv"
)

const maxListScan = 1000

func coreKey(id string) string  { return "sales:lead:" + id }
func stateKey(id string) string { return "sales:leadstate:" + id }
func notesKey(id string) string { return "sales:leadnotes:" + id }

// AllIndexKey orders every lead by last touch.
const AllIndexKey = "sales:idx:all"

func StatusIndexKey(s Status) string { return "sales:idx:status:" + string(s) }

// CompanyBlocker receives companies of leads marked EXCLUDED.
type CompanyBlocker interface {
	Block(ctx context.Context, company string, ttl time.Duration) error
}

type Store struct {
	kv         kv.Store
	blocker    CompanyBlocker
	excludeTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

type Option func(*Store)

// WithCompanyBlocker blocks a lead's company for ttl when it moves to EXCLUDED.
func WithCompanyBlocker(b CompanyBlocker, ttl time.Duration) Option {
	return func(s *Store) {
		s.blocker = b
		s.excludeTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{kv: store, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if kv.IsNil(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(payload), 0); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) touch(ctx context.Context, id string, status Status, ts int64) error {
	z := kv.Z{Score: float64(ts), Member: id}
	if err := s.kv.ZAdd(ctx, AllIndexKey, z); err != nil {
		return fmt.Errorf("index lead: %w", err)
	}
	if err := s.kv.ZAdd(ctx, StatusIndexKey(status), z); err != nil {
		return fmt.Errorf("index lead status: %w", err)
	}
	return nil
}

// Upsert writes the lead core. A state record is created only if none exists
// (create-if-absent), in which case created reports true. Re-discoveries keep
// the original lead_id and created_at and leave the state untouched.
func (s *Store) Upsert(ctx context.Context, core Core) (bool, error) {
	if strings.TrimSpace(core.LeadID) == "" {
		return false, fmt.Errorf("%w: lead_id is required", ErrInvalidInput)
	}
	ts := s.nowMs()

	var existing Core
	switch err := s.getJSON(ctx, coreKey(core.LeadID), &existing); {
	case err == nil:
		core.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return false, err
	}
	if core.CreatedAt == 0 {
		core.CreatedAt = ts
	}
	core.UpdatedAt = ts
	if err := s.setJSON(ctx, coreKey(core.LeadID), core); err != nil {
		return false, err
	}

	initial, err := json.Marshal(State{LeadID: core.LeadID, Status: StatusNew, Tags: []string{}, StatusChangedAt: ts})
	if err != nil {
		return false, fmt.Errorf("encode initial state: %w", err)
	}
	created, err := s.kv.SetNX(ctx, stateKey(core.LeadID), string(initial), 0)
	if err != nil {
		return false, fmt.Errorf("create lead state: %w", err)
	}
	if created {
		return true, s.touch(ctx, core.LeadID, StatusNew, ts)
	}

	state, err := s.GetState(ctx, core.LeadID)
	if err != nil {
		return false, err
	}
	return false, s.touch(ctx, core.LeadID, state.Status, ts)
}

func (s *Store) GetCore(ctx context.Context, id string) (Core, error) {
	var core Core
	if err := s.getJSON(ctx, coreKey(id), &core); err != nil {
		return Core{}, err
	}
	return core, nil
}

func (s *Store) GetState(ctx context.Context, id string) (State, error) {
	var state State
	if err := s.getJSON(ctx, stateKey(id), &state); err != nil {
		return State{}, err
	}
	if state.Tags == nil {
		state.Tags = []string{}
	}
	return state, nil
}

// HasState reports whether a lead with this id is already tracked.
func (s *Store) HasState(ctx context.Context, id string) (bool, error) {
	ok, err := s.kv.Exists(ctx, stateKey(id))
	if err != nil {
		return false, fmt.Errorf("check lead state: %w", err)
	}
	return ok, nil
}

// Get returns the combined lead view.
func (s *Store) Get(ctx context.Context, id string) (Lead, error) {
	core, err := s.GetCore(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	state, err := s.GetState(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	count, err := s.NotesCount(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	return Lead{Core: core, State: state, NotesCount: count}, nil
}

// List returns leads from the requested index. Leads missing either record
// are skipped.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Lead, error) {
	index := AllIndexKey
	var status Status
	if raw := strings.TrimSpace(opts.Status); raw != "" && !strings.EqualFold(raw, "ALL") {
		parsed, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		status = parsed
		index = StatusIndexKey(parsed)
	}
	sortBy := strings.ToLower(strings.TrimSpace(opts.SortBy))
	if sortBy == "" {
		sortBy = SortLatest
	}
	if sortBy != SortLatest && sortBy != SortScore {
		return nil, fmt.Errorf("%w: sortBy must be latest or score", ErrInvalidInput)
	}
	limit := ClampLimit(opts.Limit)

	ids, err := s.kv.ZRevRange(ctx, index, 0, maxListScan-1)
	if err != nil {
		return nil, fmt.Errorf("read lead index: %w", err)
	}

	out := make([]Lead, 0, min(len(ids), limit))
	for _, id := range ids {
		lead, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status == StatusNew && opts.HideCompany != nil && opts.HideCompany(lead.AIAnalysis.CompanyName) {
			continue
		}
		out = append(out, lead)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if sortBy == SortScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClampLimit applies the list default and maximum.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Counts returns the size of every status index plus "ALL".
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(AllStatuses)+1)
	total, err := s.kv.ZCard(ctx, AllIndexKey)
	if err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}
	counts["ALL"] = total
	for _, status := range AllStatuses {
		n, err := s.kv.ZCard(ctx, StatusIndexKey(status))
		if err != nil {
			return nil, fmt.Errorf("count %s leads: %w", status, err)
		}
		counts[string(status)] = n
	}
	return counts, nil
}

// UpdateState applies a partial update. The status is validated before any
// write; a missing state yields ErrNotFound.
func (s *Store) UpdateState(ctx context.Context, id string, patch StatePatch) (State, error) {
	var newStatus Status
	if patch.Status != nil {
		parsed, err := ParseStatus(*patch.Status)
		if err != nil {
			return State{}, err
		}
		newStatus = parsed
	}

	state, err := s.GetState(ctx, id)
	if err != nil {
		return State{}, err
	}
	if patch.Tags != nil {
		state.Tags = append([]string{}, (*patch.Tags)...)
	}
	if patch.NextAction != nil {
		state.NextAction = *patch.NextAction
	}
	if patch.AssignedTo != nil {
		state.AssignedTo = *patch.AssignedTo
	}
	if patch.LastContactedAt != nil {
		v := *patch.LastContactedAt
		state.LastContactedAt = &v
	}
	if newStatus == "" {
		newStatus = state.Status
	}
	return s.transition(ctx, state, newStatus)
}

// transition saves state under newStatus and moves the index membership.
func (s *Store) transition(ctx context.Context, state State, newStatus Status) (State, error) {
	ts := s.nowMs()
	oldStatus := state.Status
	changed := newStatus != oldStatus
	if changed {
		state.Status = newStatus
		state.StatusChangedAt = ts
	}

	if err := s.setJSON(ctx, stateKey(state.LeadID), state); err != nil {
		return State{}, err
	}
	if changed {
		if err := s.kv.ZRem(ctx, StatusIndexKey(oldStatus), state.LeadID); err != nil {
			return State{}, fmt.Errorf("move lead status index: %w", err)
		}
	}
	if err := s.touch(ctx, state.LeadID, newStatus, ts); err != nil {
		return State{}, err
	}

	if changed && newStatus == StatusExcluded {
		s.blockCompany(ctx, state.LeadID)
	}
	return state, nil
}

func (s *Store) blockCompany(ctx context.Context, id string) {
	if s.blocker == nil {
		return
	}
	core, err := s.GetCore(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("lead_id", id).Msg("cannot load excluded lead to block its company")
		return
	}
	company := strings.TrimSpace(core.AIAnalysis.CompanyName)
	if dedup.CompanyKey(company) == "" {
		return
	}
	if err := s.blocker.Block(ctx, company, s.excludeTTL); err != nil {
		s.logger.Warn().Err(err).Str("lead_id", id).Str("company", company).Msg("block excluded company failed")
		return
	}
	s.logger.Info().Str("lead_id", id).Str("company", company).Dur("ttl", s.excludeTTL).Msg("blocked excluded company")
}

// BulkUpdateState moves every existing lead to status. Unknown ids are
// skipped; the number of updated leads is returned.
func (s *Store) BulkUpdateState(ctx context.Context, ids []string, rawStatus string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: lead ids are required", ErrInvalidInput)
	}
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		state, err := s.GetState(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, err
		}
		if _, err := s.transition(ctx, state, status); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Delete removes the core, state, notes and every index membership.
func (s *Store) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: lead id is required", ErrInvalidInput)
	}
	if _, err := s.kv.Del(ctx, coreKey(id), stateKey(id), notesKey(id)); err != nil {
		return fmt.Errorf("delete lead records: %w", err)
	}
	if err := s.kv.ZRem(ctx, AllIndexKey, id); err != nil {
		return fmt.Errorf("delete lead index: %w", err)
	}
	for _, status := range AllStatuses {
		if err := s.kv.ZRem(ctx, StatusIndexKey(status), id); err != nil {
			return fmt.Errorf("delete lead status index: %w", err)
		}
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: lead ids are required", ErrInvalidInput)
	}
	deleted := 0
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// AddNote prepends a note, trims the list to MaxNotes and bumps the lead in
// its indices.
func (s *Store) AddNote(ctx context.Context, id, content, author string) (Note, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Note{}, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	state, err := s.GetState(ctx, id)
	if err != nil {
		return Note{}, err
	}

	note := Note{
		ID:        uuid.NewString(),
		LeadID:    id,
		Content:   trimmed,
		Author:    strings.TrimSpace(author),
		CreatedAt: s.nowMs(),
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return Note{}, fmt.Errorf("encode note: %w", err)
	}
	if _, err := s.kv.LPush(ctx, notesKey(id), string(payload)); err != nil {
		return Note{}, fmt.Errorf("append note: %w", err)
	}
	if err := s.kv.LTrim(ctx, notesKey(id), 0, MaxNotes-1); err != nil {
		return Note{}, fmt.Errorf("trim notes: %w", err)
	}
	if err := s.touch(ctx, id, state.Status, note.CreatedAt); err != nil {
		return Note{}, err
	}
	return note, nil
}

// Notes returns notes newest first. Undecodable entries are skipped.
func (s *Store) Notes(ctx context.Context, id string) ([]Note, error) {
	raw, err := s.kv.LRange(ctx, notesKey(id), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]Note, 0, len(raw))
	for _, item := range raw {
		var note Note
		if err := json.Unmarshal([]byte(item), &note); err != nil {
			s.logger.Warn().Err(err).Str("lead_id", id).Msg("skipping corrupt note")
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}

func (s *Store) NotesCount(ctx context.Context, id string) (int64, error) {
	n, err := s.kv.LLen(ctx, notesKey(id))
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}
