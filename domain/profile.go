package domain

import "time"

// NotificationPrefs holds a user's notification opt-ins. Stored as part of
// the profile row the application owns.
type NotificationPrefs struct {
	EmailDigest  bool `json:"email_digest"`
	ChatMentions bool `json:"chat_mentions"`
	ProductNews  bool `json:"product_news"`
}

// ProfileRecord is the set of extended user attributes the application owns,
// keyed by the identity the provider assigns. Its lifecycle is independent of
// any session: a profile row can exist while nobody is signed in.
type ProfileRecord struct {
	Identity    string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Bio         string            `json:"bio,omitempty"`
	AvatarURL   string            `json:"avatar_url,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"`
	Interests   []string          `json:"interests,omitempty"`
	NotifyPrefs NotificationPrefs `json:"notify_prefs"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the record. Callers that hand records to
// subscribers use it so later mutations cannot leak backwards in time.
func (p *ProfileRecord) Clone() *ProfileRecord {
	if p == nil {
		return nil
	}
	cp := *p
	if p.SocialLinks != nil {
		cp.SocialLinks = make(map[string]string, len(p.SocialLinks))
		for k, v := range p.SocialLinks {
			cp.SocialLinks[k] = v
		}
	}
	if p.Interests != nil {
		cp.Interests = append([]string(nil), p.Interests...)
	}
	return &cp
}

// ProfilePatch is a partial profile update. Nil fields are left untouched;
// the same shape is sent to the remote store and merged locally for the
// optimistic view.
type ProfilePatch struct {
	DisplayName *string            `json:"display_name,omitempty"`
	Bio         *string            `json:"bio,omitempty"`
	AvatarURL   *string            `json:"avatar_url,omitempty"`
	SocialLinks map[string]string  `json:"social_links,omitempty"`
	Interests   []string           `json:"interests,omitempty"`
	NotifyPrefs *NotificationPrefs `json:"notify_prefs,omitempty"`
}

// IsZero reports whether the patch carries no changes at all.
func (p ProfilePatch) IsZero() bool {
	return p.DisplayName == nil && p.Bio == nil && p.AvatarURL == nil &&
		p.SocialLinks == nil && p.Interests == nil && p.NotifyPrefs == nil
}

// ApplyTo merges the patch into a copy of rec and returns it. rec may be nil,
// in which case the patch is applied to an empty record.
func (p ProfilePatch) ApplyTo(rec *ProfileRecord) *ProfileRecord {
	out := rec.Clone()
	if out == nil {
		out = &ProfileRecord{}
	}
	if p.DisplayName != nil {
		out.DisplayName = *p.DisplayName
	}
	if p.Bio != nil {
		out.Bio = *p.Bio
	}
	if p.AvatarURL != nil {
		out.AvatarURL = *p.AvatarURL
	}
	if p.SocialLinks != nil {
		out.SocialLinks = make(map[string]string, len(p.SocialLinks))
		for k, v := range p.SocialLinks {
			out.SocialLinks[k] = v
		}
	}
	if p.Interests != nil {
		out.Interests = append([]string(nil), p.Interests...)
	}
	if p.NotifyPrefs != nil {
		out.NotifyPrefs = *p.NotifyPrefs
	}
	return out
}

// AuthenticatedUser is the merged view of the provider identity and the
// application-owned profile for the current viewer. It is recomputed whenever
// either input changes and is never persisted. It exists only while a session
// is live and its profile fetch completed without error.
type AuthenticatedUser struct {
	Identity    string
	Email       string
	DisplayName string
	AvatarURL   string
	Profile     *ProfileRecord
}

// NewAuthenticatedUser merges the provider's user info with the profile row
// fetched for the same identity. Returns nil unless both sides are present
// and keyed by the same identity.
func NewAuthenticatedUser(info *UserInfo, rec *ProfileRecord) *AuthenticatedUser {
	if info == nil || rec == nil || info.ID != rec.Identity {
		return nil
	}
	return &AuthenticatedUser{
		Identity:    info.ID,
		Email:       info.Email,
		DisplayName: rec.DisplayName,
		AvatarURL:   rec.AvatarURL,
		Profile:     rec,
	}
}
