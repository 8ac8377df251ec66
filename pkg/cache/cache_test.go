package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementExpiry(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		attrs Attributes
		want  bool
	}{
		{"eternal", Attributes{CreatedAt: now.Add(-time.Hour), MaxLife: time.Second, IsEternal: true}, false},
		{"no limits", Attributes{CreatedAt: now.Add(-time.Hour)}, false},
		{"within max life", Attributes{CreatedAt: now.Add(-time.Second), MaxLife: time.Minute}, false},
		{"past max life", Attributes{CreatedAt: now.Add(-time.Hour), MaxLife: time.Minute}, true},
		{"idle", Attributes{CreatedAt: now, LastAccess: now.Add(-time.Hour), MaxIdle: time.Minute}, true},
		{"recently touched", Attributes{CreatedAt: now, LastAccess: now, MaxIdle: time.Minute}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Element{Key: "k", Attributes: tt.attrs}
			assert.Equal(t, tt.want, e.IsExpired(now))
		})
	}
}

func TestElementClone(t *testing.T) {
	e := NewElement("k", []byte("value"))
	c := e.Clone()
	c.Value[0] = 'V'
	c.Attributes.IsSpool = false

	assert.Equal(t, "value", string(e.Value))
	assert.True(t, e.Attributes.IsSpool)
	assert.Nil(t, (*Element)(nil).Clone())
}

func TestDefaultAttributes(t *testing.T) {
	a := DefaultAttributes()
	assert.True(t, a.IsEternal)
	assert.True(t, a.IsSpool)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestRegexMatcher(t *testing.T) {
	m := NewRegexMatcher()
	keys := []string{"user:1", "user:2", "olduser:1", "session:9"}

	got, err := m.Match("user:.*", keys)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, got)

	got, err = m.Match("user:.*", keys)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, uint64(1), m.compiled.Stats().Hits)

	got, err = m.Match("nothing", keys)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = m.Match("([", keys)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := Stats{TypeName: "Region"}
	s.Add("hits", 3)
	s.Children = append(s.Children, *(&Stats{TypeName: "Disk"}).Add("purgatory_size", 7))

	v, ok := s.Lookup("purgatory_size")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = s.Lookup("absent")
	assert.False(t, ok)

	assert.Contains(t, s.String(), "  Disk\n    purgatory_size = 7")
	assert.Equal(t, "disposed", StatusDisposed.String())
}
