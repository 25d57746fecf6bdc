package notification

import (
	"fmt"
	"slices"
	"time"
)

// Type is the severity of an in-app notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Status is the content workflow state of a record.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// InAppNotification is the input for creating an in-app record.
type InAppNotification struct {
	Title   string `json:"title" validate:"notblank"`
	Message string `json:"message" validate:"notblank"`
	Type    Type   `json:"type,omitempty" validate:"omitempty,oneof=info success warning error"`
	Link    string `json:"link,omitempty" validate:"omitempty,abs_url"`
	Draft   bool   `json:"draft,omitempty"`
}

// NewInAppNotification defaults the type to info and validates n.
func NewInAppNotification(n InAppNotification) (InAppNotification, error) {
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if err := n.Validate(); err != nil {
		return InAppNotification{}, err
	}
	return n, nil
}

// Validate checks the content fields of n.
func (n InAppNotification) Validate() error {
	ve := &ValidationError{}
	check(n, ve)
	return ve.orNil()
}

// Record is a persisted in-app notification.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"isRead"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate applies the in-app content rules to the record's fields.
func (r Record) Validate() error {
	ve := &ValidationError{}
	check(InAppNotification{Title: r.Title, Message: r.Message, Type: r.Type, Link: r.Link}, ve)
	check(struct {
		Status Status `json:"status" validate:"oneof=draft published archived"`
	}{r.Status}, ve)
	return ve.orNil()
}

// RecordPatch is a partial update. Nil fields are left untouched, so an edit
// of the title never changes IsRead or Status.
type RecordPatch struct {
	Title   *string `json:"title,omitempty"`
	Message *string `json:"message,omitempty"`
	Type    *Type   `json:"type,omitempty"`
	Link    *string `json:"link,omitempty"`
	IsRead  *bool   `json:"isRead,omitempty"`
	Status  *Status `json:"status,omitempty"`

	// ExpectStatus makes the write conditional: stores apply the patch only
	// while the record still has this status and otherwise return
	// ErrInvalidTransition. It is never read from a request body.
	ExpectStatus *Status `json:"-"`
}

// IsEmpty reports whether p sets no field. ExpectStatus is a condition, not
// a field.
func (p RecordPatch) IsEmpty() bool {
	return p.Title == nil && p.Message == nil && p.Type == nil &&
		p.Link == nil && p.IsRead == nil && p.Status == nil
}

// Validate rejects an empty patch and checks the fields it sets against the
// same rules as a full record.
func (p RecordPatch) Validate() error {
	ve := &ValidationError{}
	if p.IsEmpty() {
		ve.add("patch", messages["patch.empty"])
		return ve
	}
	sample := p.Apply(Record{Title: "-", Message: "-", Type: TypeInfo, Status: StatusDraft})
	if err := sample.Validate(); err != nil {
		return err
	}
	return nil
}

// CheckStatus reports a conflict when p expects a status other than current.
func (p RecordPatch) CheckStatus(current Status) error {
	if p.ExpectStatus != nil && *p.ExpectStatus != current {
		return fmt.Errorf("%w: status is %s, expected %s", ErrInvalidTransition, current, *p.ExpectStatus)
	}
	return nil
}

// Apply returns r with the fields present in p overwritten.
func (p RecordPatch) Apply(r Record) Record {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Message != nil {
		r.Message = *p.Message
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Link != nil {
		r.Link = *p.Link
	}
	if p.IsRead != nil {
		r.IsRead = *p.IsRead
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	return r
}

// ListFilter narrows a record listing. Zero values mean "no constraint".
type ListFilter struct {
	OnlyUnread bool
	Types      []Type
	Status     Status
	Limit      int
	Offset     int
}

// Matches reports whether r passes the filter's predicates (not paging).
func (f ListFilter) Matches(r Record) bool {
	if f.OnlyUnread && r.IsRead {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, r.Type) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
