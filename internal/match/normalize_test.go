package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Super Mario World (USA) [!]", "super mario world"},
		{"Legend_of_Game_v1.2", "legend of game"},
		{"Game (Europe) (Rev 1)", "game"},
		{"F-Zero (USA)", "f zero"},
		{"game.v1.2", "game"},
		{"Patch 1.0.3", "patch"},
		{"Hack v2", "hack"},
		{"Mother 3", "mother 3"},
		{"7th Saga, The (USA)", "7th saga, the"},
		{"UPPER_case-Mix", "upper case mix"},
		{"  spaced   out  ", "spaced out"},
		{"(USA)[T+Eng]", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
