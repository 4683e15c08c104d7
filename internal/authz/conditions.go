package authz

import (
	"context"
	"fmt"
)

// MatchConditions is the default AttributeCheck. Every condition key must be satisfied by the
// request: a scalar condition needs an equal value, a list condition needs the value to be one
// of its members. "resourceId", "tenant" and "userId" resolve to the request fields when the
// attributes do not carry them.
func MatchConditions(_ context.Context, req Request, conditions map[string]interface{}) (bool, error) {
	for key, want := range conditions {
		got, ok := lookup(req, key)
		if !ok {
			return false, nil
		}
		if !satisfies(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func lookup(req Request, key string) (interface{}, bool) {
	if v, ok := req.Attributes[key]; ok {
		return v, true
	}
	switch key {
	case "resourceId":
		return req.ResourceID, req.ResourceID != ""
	case "tenant":
		return req.Tenant, true
	case "userId":
		return req.UserID.String(), true
	}
	return nil, false
}

func satisfies(got, want interface{}) bool {
	switch w := want.(type) {
	case []interface{}:
		for _, member := range w {
			if equal(got, member) {
				return true
			}
		}
		return false
	case []string:
		for _, member := range w {
			if equal(got, member) {
				return true
			}
		}
		return false
	default:
		return equal(got, want)
	}
}

// equal compares by printed form so 3 and 3.0 from decoded JSON agree.
func equal(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
