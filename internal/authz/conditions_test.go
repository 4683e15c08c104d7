package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMatchConditions(t *testing.T) {
	user := uuid.New()
	req := Request{
		UserID:     user,
		Tenant:     "default",
		ResourceID: "H1",
		Attributes: map[string]interface{}{"region": "north", "level": 3},
	}

	tests := []struct {
		name       string
		conditions map[string]interface{}
		want       bool
	}{
		{"scalar match", map[string]interface{}{"region": "north"}, true},
		{"scalar mismatch", map[string]interface{}{"region": "south"}, false},
		{"list membership", map[string]interface{}{"region": []interface{}{"east", "north"}}, true},
		{"string list", map[string]interface{}{"region": []string{"east"}}, false},
		{"json number", map[string]interface{}{"level": float64(3)}, true},
		{"missing attribute", map[string]interface{}{"department": "ortho"}, false},
		{"resource id fallback", map[string]interface{}{"resourceId": "H1"}, true},
		{"user id fallback", map[string]interface{}{"userId": user.String()}, true},
		{"all keys must hold", map[string]interface{}{"region": "north", "level": 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchConditions(context.Background(), req, tt.conditions)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
