package macro

import (
	"time"

	"github.com/asakaida/rowguard/internal/services/evaluation"
)

// textMacros are substituted by the Expander before a rule is parsed
var textMacros = map[string]string{
	"owns_record":      "created_by = @request.auth.id",
	"is_public":        "public = true",
	"is_authenticated": "@request.auth.id != null",
}

// contextRoots are @-prefixed context references the Expander never touches
var contextRoots = map[string]bool{
	evaluation.RootRequest:     true,
	evaluation.RootUser:        true,
	evaluation.RootRecord:      true,
	evaluation.RootPermissions: true,
	"auth":                     true,
}

// IsTextMacro reports whether name is a built-in text macro
func IsTextMacro(name string) bool {
	_, ok := textMacros[name]
	return ok
}

// predicate is a built-in macro evaluated against the context.
// Predicates never fail: missing data or bad arguments yield false.
type predicate func(ectx *evaluation.Context, args []any, now time.Time) bool

// is_authenticated, is_public and owns_record are also text macros; their
// predicates give gate rules the meaning the fragment has in a filter.
var predicates = map[string]predicate{
	"has_group":        hasGroup,
	"has_role":         hasRole,
	"owns_record":      ownsRecord,
	"is_creator":       ownsRecord,
	"is_authenticated": isAuthenticated,
	"is_public":        isPublic,
	"in_time_range":    inTimeRange,
	"has_permission":   hasPermission,
}

// IsPredicate reports whether name is a built-in predicate macro
func IsPredicate(name string) bool {
	_, ok := predicates[name]
	return ok
}

// has_group(group): user.groups contains group
func hasGroup(ectx *evaluation.Context, args []any, _ time.Time) bool {
	if len(args) != 1 {
		return false
	}
	return evaluation.Contains(ectx.Lookup(evaluation.RootUser, "groups"), args[0])
}

// has_role(role): user.role == role
func hasRole(ectx *evaluation.Context, args []any, _ time.Time) bool {
	if len(args) != 1 {
		return false
	}
	role := ectx.Lookup(evaluation.RootUser, "role")
	return role != nil && evaluation.Equal(role, args[0])
}

// owns_record(): user.id == record.owner_id, or record.created_by when the
// record has no owner_id
func ownsRecord(ectx *evaluation.Context, args []any, _ time.Time) bool {
	if len(args) != 0 {
		return false
	}
	userID := ectx.Lookup(evaluation.RootUser, "id")
	ownerID := ectx.Lookup(evaluation.RootRecord, "owner_id")
	if ownerID == nil {
		ownerID = ectx.Lookup(evaluation.RootRecord, "created_by")
	}
	if userID == nil || ownerID == nil {
		return false
	}
	return evaluation.Equal(userID, ownerID)
}

// is_authenticated(): request.auth.id != null
func isAuthenticated(ectx *evaluation.Context, args []any, _ time.Time) bool {
	if len(args) != 0 {
		return false
	}
	return !evaluation.Equal(ectx.Lookup(evaluation.RootRequest, "auth", "id"), nil)
}

// is_public(): record.public == true
func isPublic(ectx *evaluation.Context, args []any, _ time.Time) bool {
	if len(args) != 0 {
		return false
	}
	return evaluation.Equal(ectx.Lookup(evaluation.RootRecord, "public"), true)
}

// in_time_range(start, end): start <= current hour < end. A range whose
// start is after its end wraps past midnight.
func inTimeRange(_ *evaluation.Context, args []any, now time.Time) bool {
	if len(args) != 2 {
		return false
	}
	start, ok := evaluation.ToInt(args[0])
	if !ok {
		return false
	}
	end, ok := evaluation.ToInt(args[1])
	if !ok {
		return false
	}

	hour := int64(now.Hour())
	if start <= end {
		return start <= hour && hour < end
	}
	return hour >= start || hour < end
}

// has_permission(action, resource): permissions[resource] contains action
func hasPermission(ectx *evaluation.Context, args []any, _ time.Time) bool {
	if len(args) != 2 {
		return false
	}
	resource, ok := args[1].(string)
	if !ok {
		return false
	}
	return evaluation.Contains(ectx.Lookup(evaluation.RootPermissions, resource), args[0])
}
