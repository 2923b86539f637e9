package indieauth

import "github.com/eringen/interpersonal/apperr"

// ScopeInfo names a scope and describes it on the consent page.
type ScopeInfo struct {
	Name        string
	Description string
}

// Scopes lists every scope the authority can grant.
var Scopes = []ScopeInfo{
	{"profile", "Access your profile URL"},
	{"email", "Access your email address"},
	{"create", "Create new posts"},
	{"update", "Edit existing posts"},
	{"delete", "Delete posts"},
	{"undelete", "Restore deleted posts"},
	{"media", "Upload files to the media endpoint"},
}

// KnownScope reports whether name is a scope the authority grants.
func KnownScope(name string) bool {
	for _, s := range Scopes {
		if s.Name == name {
			return true
		}
	}
	return false
}

// FilterScopes keeps the known scopes of requested, in canonical order and
// without duplicates.
func FilterScopes(requested []string) []string {
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		want[r] = true
	}
	var out []string
	for _, s := range Scopes {
		if want[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}

// Action normalizes a Micropub action name. An empty action is a create.
func Action(action string) string {
	if action == "" {
		return "create"
	}
	return action
}

// Require fails with an insufficient scope error unless v was granted the
// scope named by action.
func Require(v *Verified, action string) error {
	action = Action(action)
	if v == nil || !v.HasScope(action) {
		return apperr.InsufficientScope(action)
	}
	return nil
}
