// Package notification contains the domain model shared by the dispatch and
// lifecycle components: recipients and audiences, push messages, in-app
// records, delivery outcomes and reports, and the error taxonomy.
package notification

import (
	"strings"
)

// Platform identifies the push provider a recipient is reachable through.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
	PlatformWeb  Platform = "web"
)

// Known reports whether p is one of the supported platforms.
func (p Platform) Known() bool {
	switch p {
	case PlatformFCM, PlatformAPNS, PlatformWeb:
		return true
	}
	return false
}

// RecipientID is an opaque, platform-qualified delivery target such as
// "fcm:<token>", "apns:<token>" or "web:<endpoint>".
//
// An identifier without a known platform prefix is a bare FCM registration
// token. FCM tokens contain ':' themselves, so only the known prefixes are
// treated as qualifiers.
type RecipientID string

// NewRecipientID qualifies a raw provider address with its platform.
func NewRecipientID(p Platform, address string) RecipientID {
	return RecipientID(string(p) + ":" + address)
}

// Parse splits the identifier into platform and provider address.
func (id RecipientID) Parse() (Platform, string) {
	raw := string(id)
	if prefix, rest, ok := strings.Cut(raw, ":"); ok {
		if p := Platform(prefix); p.Known() {
			return p, rest
		}
	}
	return PlatformFCM, raw
}

// Platform returns the platform the identifier belongs to.
func (id RecipientID) Platform() Platform {
	p, _ := id.Parse()
	return p
}

// Address returns the provider-specific part of the identifier.
func (id RecipientID) Address() string {
	_, a := id.Parse()
	return a
}

func (id RecipientID) String() string {
	return string(id)
}

// AudienceKind selects how an Audience is resolved.
type AudienceKind string

const (
	AudienceAll      AudienceKind = "all"
	AudienceTopic    AudienceKind = "topic"
	AudienceExplicit AudienceKind = "explicit"
)

// Audience is the recipient selector of a dispatch.
type Audience struct {
	Kind       AudienceKind  `json:"kind"`
	Topic      string        `json:"topic,omitempty"`
	Recipients []RecipientID `json:"recipients,omitempty"`
}

// All targets every registered recipient.
func All() Audience {
	return Audience{Kind: AudienceAll}
}

// Topic targets recipients registered under the exact topic name.
func Topic(name string) Audience {
	return Audience{Kind: AudienceTopic, Topic: name}
}

// Explicit targets the given recipients.
func Explicit(ids ...RecipientID) Audience {
	return Audience{Kind: AudienceExplicit, Recipients: append([]RecipientID(nil), ids...)}
}

// Canonical returns the platform-qualified form of id, so a bare FCM token
// and its "fcm:" form compare equal.
func (id RecipientID) Canonical() RecipientID {
	return NewRecipientID(id.Parse())
}

// Dedupe drops blank identifiers and repeated ones, keeping the first
// occurrence as written and in order. Identifiers are compared in canonical
// form.
func Dedupe(ids []RecipientID) []RecipientID {
	seen := make(map[RecipientID]struct{}, len(ids))
	out := make([]RecipientID, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(string(id)) == "" {
			continue
		}
		key := id.Canonical()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (a Audience) String() string {
	switch a.Kind {
	case AudienceTopic:
		return "topic(" + a.Topic + ")"
	case AudienceExplicit:
		return "explicit"
	default:
		return string(a.Kind)
	}
}
