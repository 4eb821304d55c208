package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme X1 pump", "acme | x1 | pump"},
		{"what's the pressure?", "what | the | pressure"},
		{"a & b | c:*", ""},
		{"pump pump PUMP", "pump"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, orTSQuery(tt.in))
		})
	}
}
