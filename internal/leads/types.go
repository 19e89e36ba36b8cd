package leads

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/leadscan/internal/enrich"
)

var (
	ErrNotFound      = errors.New("lead not found")
	ErrInvalidStatus = errors.New("invalid lead status")
	ErrInvalidInput  = errors.New("invalid input")
)

type Status string

const (
	StatusNew        Status = "NEW"
	StatusContacted  Status = "CONTACTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusWon        Status = "WON"
	StatusLost       Status = "LOST"
	StatusExcluded   Status = "EXCLUDED"
)

// AllStatuses lists every lifecycle state in pipeline order.
var AllStatuses = []Status{
	StatusNew,
	StatusContacted,
	StatusInProgress,
	StatusOnHold,
	StatusWon,
	StatusLost,
	StatusExcluded,
}

func (s Status) Valid() bool {
	for _, candidate := range AllStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

type Contact struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	PRAgency string `json:"pr_agency,omitempty"`
	Homepage string `json:"homepage,omitempty"`
	Source   string `json:"source,omitempty"`
}

// ContactFromAnalysis copies the extracted contact fields.
func ContactFromAnalysis(a enrich.Analysis) Contact {
	return Contact{
		Email:    a.ContactEmail,
		Phone:    a.ContactPhone,
		PRAgency: a.PRAgency,
		Homepage: a.HomepageURL,
		Source:   "NEWS",
	}
}

// Core holds the facts about a lead. Timestamps are unix milliseconds.
type Core struct {
	LeadID         string          `json:"lead_id"`
	Title          string          `json:"title"`
	Link           string          `json:"link"`
	ContentSnippet string          `json:"contentSnippet"`
	PubDate        time.Time       `json:"pubDate"`
	Source         string          `json:"source"`
	SourceTag      string          `json:"source_tag,omitempty"`
	Keyword        string          `json:"keyword,omitempty"`
	AIAnalysis     enrich.Analysis `json:"ai_analysis"`
	Contact        Contact         `json:"contact"`
	FinalScore     int             `json:"final_score"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

// State is the operator-owned lifecycle record.
type State struct {
	LeadID          string   `json:"lead_id"`
	Status          Status   `json:"status"`
	Tags            []string `json:"tags"`
	NextAction      string   `json:"next_action,omitempty"`
	AssignedTo      string   `json:"assigned_to,omitempty"`
	StatusChangedAt int64    `json:"status_changed_at"`
	LastContactedAt *int64   `json:"last_contacted_at,omitempty"`
}

type Note struct {
	ID        string `json:"id"`
	LeadID    string `json:"lead_id"`
	Content   string `json:"content"`
	Author    string `json:"author,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Lead is the combined view returned to clients.
type Lead struct {
	Core
	State      State `json:"state"`
	NotesCount int64 `json:"notes_count"`
}

// StatePatch is a partial state update; nil fields are left unchanged.
type StatePatch struct {
	Status          *string   `json:"status"`
	Tags            *[]string `json:"tags"`
	NextAction      *string   `json:"next_action"`
	AssignedTo      *string   `json:"assigned_to"`
	LastContactedAt *int64    `json:"last_contacted_at"`
}

const (
	SortLatest = "latest"
	SortScore  = "score"

	DefaultListLimit = 50
	MaxListLimit     = 200
	MaxNotes         = 200
)

type ListOptions struct {
	// Status filters to one status; empty or "ALL" lists everything.
	Status string
	SortBy string
	Limit  int
	// HideCompany, when set, hides NEW leads whose company it reports as
	// blocked.
	HideCompany func(company string) bool
}
