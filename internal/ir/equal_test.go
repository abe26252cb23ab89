package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"nil and null", nil, IRNull{}, true},
		{"null and empty string", IRNull{}, IRString(""), false},
		{"strings", IRString("a"), IRString("a"), true},
		{"int vs string", IRInt(1), IRString("1"), false},
		{"dates", NewIRTimeUnix(5), NewIRTimeUnix(5), true},
		{"date vs int", NewIRTimeUnix(5), IRInt(5), false},
		{"arrays", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(1), IRInt(2)}, true},
		{"array order", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(2), IRInt(1)}, false},
		{"objects", IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1)}, true},
		{"object extra key", IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1), "b": IRNull{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := IRObject{
		"list": IRArray{IRString("a")},
		"nest": IRObject{"k": IRInt(1)},
	}
	cp := orig.Clone()

	cp["list"].(IRArray)[0] = IRString("changed")
	cp["nest"].(IRObject)["k"] = IRInt(2)

	assert.Equal(t, IRString("a"), orig["list"].(IRArray)[0])
	assert.Equal(t, IRInt(1), orig["nest"].(IRObject)["k"])
	assert.True(t, Equal(IRNull{}, Clone(nil)))
}
