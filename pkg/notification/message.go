package notification

// MaxPushContentBytes bounds the user-visible content of a push message.
// FCM and APNs cap the whole payload at 4KB; the rest is left for the
// provider envelope and data keys.
const MaxPushContentBytes = 3584

// PushMessage is the content of a push dispatch. It is a value type: the
// constructor copies the audience so later changes by the caller are not
// observed by an in-flight dispatch.
type PushMessage struct {
	Title       string    `json:"title" validate:"notblank,max=256"`
	Body        string    `json:"body" validate:"notblank,max=2048"`
	ImageURL    string    `json:"imageUrl,omitempty" validate:"omitempty,abs_url"`
	ClickAction string    `json:"clickAction,omitempty" validate:"omitempty,action"`
	Sender      string    `json:"sender,omitempty"`
	Audience    *Audience `json:"audience,omitempty" validate:"-"`
}

// NewPushMessage normalises and validates m. A nil audience targets all
// recipients; an explicit list is de-duplicated.
func NewPushMessage(m PushMessage) (PushMessage, error) {
	if m.Audience == nil {
		all := All()
		m.Audience = &all
	} else {
		a := *m.Audience
		if a.Kind == AudienceExplicit {
			a.Recipients = Dedupe(a.Recipients)
		}
		m.Audience = &a
	}
	if err := m.Validate(); err != nil {
		return PushMessage{}, err
	}
	return m, nil
}

// Validate checks the content fields and the audience selector.
func (m PushMessage) Validate() error {
	ve := &ValidationError{}
	check(m, ve)
	if m.contentBytes() > MaxPushContentBytes {
		ve.add("body", messages["payload.size"])
	}
	if m.Audience != nil {
		switch m.Audience.Kind {
		case AudienceAll, AudienceTopic:
		case AudienceExplicit:
			if len(Dedupe(m.Audience.Recipients)) == 0 {
				ve.add("audience.recipients", messages["audience.recipients"])
			}
		default:
			ve.add("audience.kind", messages["audience.kind"])
		}
	}
	return ve.orNil()
}

func (m PushMessage) contentBytes() int {
	return len(m.Title) + len(m.Body) + len(m.ImageURL) + len(m.ClickAction) + len(m.Sender)
}

// Target returns the audience, defaulting to all recipients.
func (m PushMessage) Target() Audience {
	if m.Audience == nil {
		return All()
	}
	return *m.Audience
}

// WithAudience returns a copy of m addressed to a.
func (m PushMessage) WithAudience(a Audience) PushMessage {
	m.Audience = &a
	return m
}
