package types

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// ActionType identifies the domain mutation carried by an OfflineAction.
// The set is open: any registered handler name is a valid type.
type ActionType string

const (
	ActionMemberAdd      ActionType = "member_add"
	ActionMemberUpdate   ActionType = "member_update"
	ActionPaymentAdd     ActionType = "payment_add"
	ActionAttendanceMark ActionType = "attendance_mark"
)

// OfflineAction is one deferred mutation recorded while the backend was unreachable
type OfflineAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"timestamp"`
}

// ActionSummary is the redacted view of an OfflineAction (no payload)
type ActionSummary struct {
	ID         string     `json:"id"`
	Type       ActionType `json:"type"`
	EnqueuedAt time.Time  `json:"timestamp"`
}

// Summary returns the redacted view of the action
func (a *OfflineAction) Summary() ActionSummary {
	return ActionSummary{ID: a.ID, Type: a.Type, EnqueuedAt: a.EnqueuedAt}
}

// DeadLetter is an action dropped from automatic retry after a permanent failure
type DeadLetter struct {
	Action   OfflineAction `json:"action"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failedAt"`
}

// ConnectionStatus is the last known connectivity state
type ConnectionStatus string

const (
	ConnectionOnline  ConnectionStatus = "online"
	ConnectionOffline ConnectionStatus = "offline"
)

// SyncStatus is the process-wide synchronization health record
type SyncStatus struct {
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastOnline       time.Time        `json:"last_online"`
	LastOffline      time.Time        `json:"last_offline"`
	SyncInProgress   bool             `json:"sync_in_progress"`
	LastSyncAt       time.Time        `json:"last_sync"`
	LastQueueUpdate  time.Time        `json:"last_queue_update"`
}

// CacheEntry is one cached GET response inside a cache tier
type CacheEntry struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Age returns how long ago the entry was stored
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// SessionRecord describes one runtime session
type SessionRecord struct {
	SessionID     string    `json:"sessionId"`
	StartTime     time.Time `json:"startTime"`
	LastActivity  time.Time `json:"lastActivity"`
	SaveCount     int       `json:"saveCount"`
	IsActive      bool      `json:"isActive"`
	DataIntegrity bool      `json:"dataIntegrity"`
	Version       string    `json:"version"`
}

// Member is a gym member record
type Member struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Phone             string     `json:"phoneNumber,omitempty"`
	Email             string     `json:"email,omitempty"`
	MembershipType    string     `json:"membershipType,omitempty"`
	MembershipStatus  string     `json:"membershipStatus,omitempty"`
	SubscriptionType  string     `json:"subscriptionType,omitempty"`
	SubscriptionStart *time.Time `json:"membershipStartDate,omitempty"`
	SubscriptionEnd   *time.Time `json:"membershipEndDate,omitempty"`
	SessionsRemaining int        `json:"sessionsRemaining,omitempty"`
	Notes             string     `json:"note,omitempty"`
	ImageURL          string     `json:"imageUrl,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Valid reports whether m has an id and a name
func (m *Member) Valid() bool {
	return m != nil && m.ID != "" && strings.TrimSpace(m.Name) != ""
}

// Payment is a recorded payment for a member
type Payment struct {
	ID               string    `json:"id"`
	MemberID         string    `json:"memberId"`
	Amount           float64   `json:"amount"`
	Date             time.Time `json:"date"`
	SubscriptionType string    `json:"subscriptionType,omitempty"`
	PaymentMethod    string    `json:"paymentMethod,omitempty"`
	Status           string    `json:"status,omitempty"`
	Notes            string    `json:"notes,omitempty"`
}

// Valid reports whether p references a member and has a positive amount
func (p *Payment) Valid() bool {
	return p != nil && p.ID != "" && p.MemberID != "" && p.Amount > 0
}

// ActivityType classifies a member activity
type ActivityType string

const (
	ActivityCheckIn           ActivityType = "check-in"
	ActivityMembershipRenewal ActivityType = "membership-renewal"
	ActivityPayment           ActivityType = "payment"
	ActivityMemberAdded       ActivityType = "member-added"
)

// Activity is an entry in the member activity log (attendance, renewals, payments)
type Activity struct {
	ID         string       `json:"id"`
	MemberID   string       `json:"memberId"`
	MemberName string       `json:"memberName,omitempty"`
	Type       ActivityType `json:"activityType"`
	Timestamp  time.Time    `json:"timestamp"`
	Details    string       `json:"details,omitempty"`
}

// Valid reports whether a has a member and a timestamp
func (a *Activity) Valid() bool {
	return a != nil && a.ID != "" && a.MemberID != "" && !a.Timestamp.IsZero()
}

// Setting is a versioned settings value
type Setting struct {
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
}

// Settings maps setting names to their values
type Settings map[string]Setting

// Dataset is the full domain dataset carried by backups and exports
type Dataset struct {
	Members    []*Member   `json:"members"`
	Payments   []*Payment  `json:"payments"`
	Activities []*Activity `json:"activities"`
	Settings   Settings    `json:"settings"`
}

// Integrity holds record counts captured with a backup
type Integrity struct {
	MembersCount    int `json:"membersCount"`
	PaymentsCount   int `json:"paymentsCount"`
	ActivitiesCount int `json:"activitiesCount"`
}

// BackupSnapshot is a full-dataset backup
type BackupSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	SessionID string    `json:"sessionId"`
	Data      Dataset   `json:"data"`
	Integrity Integrity `json:"integrity"`
}

// ExportDocument is the single-file export/import format
type ExportDocument struct {
	ExportDate time.Time `json:"exportDate"`
	Version    string    `json:"version"`
	SessionID  string    `json:"sessionId"`
	Data       *Dataset  `json:"data"`
}
