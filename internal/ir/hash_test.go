package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDigestStable(t *testing.T) {
	p1 := IRObject{"entryid": IRString("A"), "subject": IRString("x")}
	p2 := IRObject{"subject": IRString("x"), "entryid": IRString("A")}

	d1, err := WriteDigest("inbox", "update", p1)
	require.NoError(t, err)
	d2, err := WriteDigest("inbox", "update", p2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	d3, err := WriteDigest("calendar", "update", p1)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestDomainSeparation(t *testing.T) {
	data := IRObject{"a": IRInt(1)}
	rd, err := RecordDigest(data)
	require.NoError(t, err)

	canonical, err := MarshalCanonical(data)
	require.NoError(t, err)
	assert.NotEqual(t, hashWithDomain(DomainWrite, canonical), rd)
}
