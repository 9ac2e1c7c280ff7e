package conflict

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	segs, err := ParsePath("subtasks[7].meta.color")
	require.NoError(t, err)
	assert.Equal(t, []Segment{
		{Key: "subtasks"},
		{ID: "7", Element: true},
		{Key: "meta"},
		{Key: "color"},
	}, segs)

	for _, bad := range []string{"", "[1]", "a..b", "a[]", "a[1", `a\`, "a]"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePath_EscapedKeys(t *testing.T) {
	segs, err := ParsePath(`links\.home.url`)
	require.NoError(t, err)
	assert.Equal(t, []Segment{{Key: "links.home"}, {Key: "url"}}, segs)

	segs, err = ParsePath(`items[a\]b].x\\y`)
	require.NoError(t, err)
	assert.Equal(t, []Segment{{Key: "items"}, {ID: "a]b", Element: true}, {Key: `x\y`}}, segs)

	for _, key := range []string{"plain", "links.home", "a[1]", `back\slash`, "[.]"} {
		p := JoinKey("meta", key)
		segs, err := ParsePath(p)
		require.NoError(t, err, p)
		assert.Equal(t, []Segment{{Key: "meta"}, {Key: key}}, segs)
		assert.Equal(t, p, FormatPath(segs))
	}

	assert.Equal(t, `links\.home`, EscapeKey("links.home"))
	assert.Equal(t, "title", EscapeKey("title"))
	assert.Equal(t, `list[x\.y]`, JoinElement("list", "x.y"))
}

func TestStripSelectorsAndTopLevel(t *testing.T) {
	assert.Equal(t, "subtasks.title", StripSelectors("subtasks[7].title"))
	assert.Equal(t, "title", StripSelectors("title"))
	assert.Equal(t, "subtasks", TopLevel("subtasks[7].title"))
	assert.Equal(t, "meta", TopLevel("meta.color"))
	assert.Equal(t, "title", TopLevel("title"))
	assert.Equal(t, `links\.home`, TopLevel(`links\.home.url`))
	assert.Equal(t, `a\.b.c`, StripSelectors(`a\.b[x\]y].c`))
}

func TestLookupAssignRemove(t *testing.T) {
	doc := Document{
		"meta": map[string]any{"color": "red"},
		"subtasks": []any{
			map[string]any{"id": "1", "completed": false},
		},
	}

	v, ok := Lookup(doc, "subtasks[1].completed", "id")
	require.True(t, ok)
	assert.Equal(t, false, v)

	_, ok = Lookup(doc, "subtasks[2]", "id")
	assert.False(t, ok)

	require.NoError(t, Assign(doc, "subtasks[1].completed", true, "id"))
	require.NoError(t, Assign(doc, "subtasks[2]", map[string]any{"id": "2", "title": "B"}, "id"))
	require.NoError(t, Assign(doc, "meta.size", 3, "id"))
	require.NoError(t, Assign(doc, "extra.deep.key", "v", "id"))

	v, _ = Lookup(doc, "subtasks[1].completed", "id")
	assert.Equal(t, true, v)
	v, _ = Lookup(doc, "subtasks[2].title", "id")
	assert.Equal(t, "B", v)
	v, _ = Lookup(doc, "extra.deep.key", "id")
	assert.Equal(t, "v", v)

	require.NoError(t, Remove(doc, "subtasks[1]", "id"))
	require.NoError(t, Remove(doc, "meta.color", "id"))
	require.NoError(t, Remove(doc, "missing.path", "id"))

	assert.Len(t, doc["subtasks"], 1)
	_, ok = Lookup(doc, "meta.color", "id")
	assert.False(t, ok)

	assert.Error(t, Assign(Document{"title": "x"}, "title.sub", 1, "id"))

	dotted := Document{"id": "t"}
	require.NoError(t, Assign(dotted, JoinKey("", "links.home"), "https://x", "id"))
	assert.Equal(t, Document{"id": "t", "links.home": "https://x"}, dotted)
	v, ok = Lookup(dotted, `links\.home`, "id")
	require.True(t, ok)
	assert.Equal(t, "https://x", v)
	require.NoError(t, Remove(dotted, `links\.home`, "id"))
	assert.Equal(t, Document{"id": "t"}, dotted)
}

func TestChecksum(t *testing.T) {
	a, err := Checksum(Document{"title": "caf\u00e9", "n": 1})
	require.NoError(t, err)
	b, err := Checksum(Document{"n": float64(1), "title": "cafe\u0301"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := Checksum(Document{"title": "other"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	doc := Document{
		"title": "x",
		"count": 3,
		"notes": Tombstone{DeletedAt: t1000, DeletedBy: "phone"},
		"subtasks": []any{
			map[string]any{"id": "1", "body": Tombstone{DeletedAt: t2000}},
		},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)

	got, err := DecodeDocument(b)
	require.NoError(t, err)
	assert.Empty(t, NewDiffer().DiffDocuments(doc, got))
	assert.Equal(t, Tombstoned, StateOf(got["notes"], true))
}
