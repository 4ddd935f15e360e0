package labelset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalIsSortedByKey(t *testing.T) {
	ls := Labels{{Name: "pod", Value: "p1"}, {Name: MetricName, Value: "cpu"}, {Name: "env", Value: "prod"}}
	require.Equal(t, "__name__=cpu,env=prod,pod=p1", ls.Canonical())
}

func TestFromMapSorts(t *testing.T) {
	ls := FromMap(map[string]string{"b": "2", "a": "1"})
	require.Equal(t, "a=1,b=2", ls.Canonical())
}

func TestGetAbsentVsEmpty(t *testing.T) {
	ls := Labels{{Name: "env", Value: ""}}
	v, ok := ls.Get("env")
	require.True(t, ok)
	require.Equal(t, "", v)

	_, ok = ls.Get("missing")
	require.False(t, ok)
}

func TestEqual(t *testing.T) {
	a := FromMap(map[string]string{"a": "1", "b": "2"})
	b := FromMap(map[string]string{"b": "2", "a": "1"})
	require.True(t, a.Equal(b))

	c := FromMap(map[string]string{"a": "1"})
	require.False(t, a.Equal(c))
}
