package domain

import (
	"strings"

	"github.com/google/uuid"
)

// AnonymousOwnerTag is the placeholder owner reference written into local
// records before the device has authenticated.
const AnonymousOwnerTag = "anonymous"

// Owner identifies the account a record belongs to. The zero value is the
// anonymous placeholder; Bound owners carry a real account identifier.
type Owner struct {
	id string
}

// Anonymous returns the placeholder owner used before authentication.
func Anonymous() Owner {
	return Owner{}
}

// Bound returns an owner bound to a real account identifier. A blank or
// placeholder identifier yields the anonymous owner.
func Bound(id string) Owner {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || IsPlaceholderOwner(id) {
		return Owner{}
	}
	return Owner{id: id}
}

// IsBound reports whether the owner refers to a real account.
func (o Owner) IsBound() bool {
	return o.id != ""
}

// Tag returns the owner reference as stored on records.
func (o Owner) Tag() string {
	if o.id == "" {
		return AnonymousOwnerTag
	}
	return o.id
}

func (o Owner) String() string {
	return o.Tag()
}

// OwnerFromTag maps a stored owner reference back to an Owner.
func OwnerFromTag(tag string) Owner {
	return Bound(tag)
}

// IsPlaceholderOwner reports whether tag is one of the temporary local owner
// tags used before authentication.
func IsPlaceholderOwner(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	switch {
	case tag == AnonymousOwnerTag, tag == "local_user", tag == "guest":
		return true
	case strings.HasPrefix(tag, "local_"), strings.HasPrefix(tag, "anon_"), strings.HasPrefix(tag, "guest_"):
		return true
	}
	return false
}

// IsCanonicalOwnerID reports whether id is a non-nil lower-case hyphenated UUID.
func IsCanonicalOwnerID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed == uuid.Nil {
		return false
	}
	return parsed.String() == id
}
