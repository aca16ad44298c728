package scancapture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

func TestDedup(t *testing.T) {
	var got []string
	l := scancapture.Dedup(scancapture.ListenerFunc(func(s string) { got = append(got, s) }))

	for _, s := range []string{"a", "a", "b", "b", "a", ""} {
		l.OnDecoded(s)
	}
	assert.Equal(t, []string{"a", "b", "a", ""}, got)
}

func TestFanout(t *testing.T) {
	var first, second []string
	l := scancapture.Fanout(
		scancapture.ListenerFunc(func(s string) { first = append(first, s) }),
		nil,
		scancapture.ListenerFunc(func(s string) { second = append(second, s) }),
	)

	l.OnDecoded("x")
	l.OnDecoded("y")
	assert.Equal(t, []string{"x", "y"}, first)
	assert.Equal(t, []string{"x", "y"}, second)
}
